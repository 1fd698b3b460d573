// Package main is the entrypoint for the otp-auth HTTP service.
// It serves validate-identity, request-otp, verify-otp and the SMS
// delivery webhook.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aelexs/otp-auth/internal/config"
	"github.com/aelexs/otp-auth/internal/server"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	return server.Run(ctx, server.Params{
		Name:           "otp-auth",
		PortFromConfig: func(cfg *config.Config) int { return cfg.HTTP.Port },
		Setup:          setup,
	}, nil)
}
