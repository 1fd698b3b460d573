// Package main is the entrypoint for the SMS worker. It consumes OTP
// delivery messages from Kafka and hands them to the SMS provider.
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
		Name:           "sms-worker",
		PortFromConfig: func(cfg *config.Config) int { return cfg.Worker.Port },
		Setup:          setup,
	}, nil)
}
