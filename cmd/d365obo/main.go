// Package main is the entry point for the d365obo broker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/cmd/d365obo/app"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/logger"
)

func main() {
	// Create a context that will be canceled on signal
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("Error executing command: %v", err)
		os.Exit(1)
	}
}
