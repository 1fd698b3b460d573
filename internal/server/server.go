// Package server provides the shared service lifecycle runner.
// Every cmd/ binary delegates to server.Run for signal handling, config
// loading, observability init, health checks and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/aelexs/otp-auth/internal/config"
	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/observability"
)

// Service is what a binary contributes to the runner.
type Service struct {
	// Routes mounts the service's HTTP endpoints next to /healthz.
	Routes func(r chi.Router)

	// Background workers run until ctx is cancelled. A worker returning an
	// error shuts the whole process down.
	Background []func(ctx context.Context) error

	// Close runs after the HTTP server drained and workers returned.
	Close func(ctx context.Context) error
}

// SetupFunc builds the service from loaded config. It runs after logging
// and telemetry are initialised.
type SetupFunc func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error)

// Params configures a service's lifecycle runner.
type Params struct {
	// Name identifies the service (e.g. "otp-auth", "sms-worker").
	Name string

	// PortFromConfig extracts the HTTP port for this service from config.
	PortFromConfig func(cfg *config.Config) int

	// Setup is optional; without it only /healthz is served.
	Setup SetupFunc
}

// Run executes the full service lifecycle. If ln is non-nil, it is used
// instead of creating a new listener from config (enables port-0 testing).
func Run(ctx context.Context, p Params, ln net.Listener) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(observability.LogConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: p.Name,
		Environment: cfg.Environment,
	})

	// --- Startup order: telemetry -> service -> HTTP server ---

	telemetry, err := observability.InitTelemetry(ctx, observability.TelemetryConfig{
		ServiceName:    p.Name,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}

	svc := &Service{}
	if p.Setup != nil {
		svc, err = p.Setup(ctx, cfg, logger)
		if err != nil {
			_ = telemetry.Shutdown(context.Background())
			return fmt.Errorf("setup %s: %w", p.Name, err)
		}
	}

	trusted, err := cfg.HTTP.TrustedProxyPrefixes()
	if err != nil {
		_ = telemetry.Shutdown(context.Background())
		return err
	}

	var shuttingDown atomic.Bool
	handler := newRouter(p.Name, svc, &shuttingDown, trusted)

	if ln == nil {
		ln, err = (&net.ListenConfig{}).Listen(ctx, "tcp", fmt.Sprintf(":%d", p.PortFromConfig(cfg)))
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	server := &http.Server{
		Handler:      otelhttp.NewHandler(handler, p.Name),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting HTTP server",
			slog.String("addr", ln.Addr().String()),
			slog.String("environment", cfg.Environment),
		)
		if serveErr := server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	})

	var workers sync.WaitGroup
	for _, bg := range svc.Background {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			return bg(ctx)
		})
	}

	// Shutdown order is the reverse of startup: HTTP -> service -> telemetry.
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("received shutdown signal, starting graceful shutdown")

		shuttingDown.Store(true)

		// Let the load balancer see the 503 before connections close.
		time.Sleep(domain.ShutdownDrainDelay)

		httpCtx, httpCancel := context.WithTimeout(context.Background(), domain.ShutdownHTTPTimeout)
		defer httpCancel()
		if shutdownErr := server.Shutdown(httpCtx); shutdownErr != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", shutdownErr.Error()))
		}

		workers.Wait()
		if svc.Close != nil {
			if closeErr := svc.Close(httpCtx); closeErr != nil {
				logger.Error("service close error", slog.String("error", closeErr.Error()))
			}
		}

		otelCtx, otelCancel := context.WithTimeout(context.Background(), domain.ShutdownOTELTimeout)
		defer otelCancel()
		if shutdownErr := telemetry.Shutdown(otelCtx); shutdownErr != nil {
			logger.Error("failed to shutdown telemetry", slog.String("error", shutdownErr.Error()))
		}

		logger.Info("shutdown complete")
		return nil
	})

	return g.Wait()
}

func newRouter(name string, svc *Service, shuttingDown *atomic.Bool, trusted []netip.Prefix) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(clientAddr(trusted))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if shuttingDown.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"shutting_down","service":%q}`, name)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":%q}`, name)
	})

	if svc.Routes != nil {
		svc.Routes(r)
	}
	return r
}
