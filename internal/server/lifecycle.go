package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// RunConfig extends Config with process level settings.
type RunConfig struct {
	Config

	// PIDFile is written while the server runs (optional)
	PIDFile string
}

// Run starts the server and blocks until shutdown.
// It handles signals for lifecycle management:
//   - SIGTERM/SIGINT/SIGHUP: stop accepting, let workers finish, exit
//   - SIGPIPE: ignore (a client that disconnects mid-response must not kill
//     the process)
func Run(ctx context.Context, cfg *RunConfig) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	server, err := NewServer(&cfg.Config)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if cfg.PIDFile != "" {
		pid := NewPIDFile(cfg.PIDFile)
		if err := pid.Acquire(); err != nil {
			return err
		}
		defer func() {
			if err := pid.Release(); err != nil {
				server.logger.Warn("failed to release PID file", "path", pid.Path(), "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	signal.Ignore(syscall.SIGPIPE)

	sigChan := make(chan os.Signal, 4)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			server.logger.Info("received shutdown signal", "signal", sig)
			server.Shutdown()
		case <-ctx.Done():
		}
	}()

	return server.Serve(ctx)
}
