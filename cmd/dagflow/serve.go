package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/afrith/dagflow/pkg/dagflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler, the workers and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return dagflow.Start(ctx, nil)
	},
}
