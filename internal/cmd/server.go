package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zycon42/list-dir/internal/config"
	"github.com/Zycon42/list-dir/internal/history"
	"github.com/Zycon42/list-dir/internal/server"
)

const serverUsage = "Usage: server -p PORT"

type serverFlags struct {
	port            int
	configPath      string
	logLevel        string
	logFormat       string
	historyDB       string
	noHistory       bool
	healthAddr      string
	pidFile         string
	ioTimeout       time.Duration
	maxRequestBytes int
	shutdownGrace   time.Duration
}

// NewServerCommand builds the server command and its history subcommand.
func NewServerCommand(stdout, stderr io.Writer) *cobra.Command {
	f := &serverFlags{}

	c := &cobra.Command{
		Use:   "server -p PORT",
		Short: "Serve directory listings over LD/1.0",
		Long: `Listen on PORT on every IPv4 interface and answer LD/1.0 directory
listing requests, one worker per client.

SIGINT, SIGTERM and SIGHUP stop accepting new clients and let in-flight
requests finish.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 || !cmd.Flags().Changed("port") {
				return &usageError{usage: serverUsage}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd, f, stderr)
		},
	}

	flags := c.Flags()
	flags.IntVarP(&f.port, "port", "p", 0, "TCP port to listen on")
	flags.StringVar(&f.configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/list-dir/config.yaml)")
	flags.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&f.logFormat, "log-format", "", "Log format (text, json)")
	flags.StringVar(&f.historyDB, "history-db", "", "Request history database path")
	flags.BoolVar(&f.noHistory, "no-history", false, "Do not record requests")
	flags.StringVar(&f.healthAddr, "health-addr", "", "Serve gRPC health checks on this address")
	flags.StringVar(&f.pidFile, "pid-file", "", "Write the server PID to this file")
	flags.DurationVar(&f.ioTimeout, "io-timeout", 0, "Timeout for each send and receive (0 = none)")
	flags.IntVar(&f.maxRequestBytes, "max-request-bytes", 0, "Maximum request line length (0 = unlimited)")
	flags.DurationVar(&f.shutdownGrace, "shutdown-grace", 0, "Wait this long for in-flight requests on shutdown (0 = don't wait)")

	c.AddCommand(newHistoryCommand(stdout))
	return c
}

func runServer(cmd *cobra.Command, f *serverFlags, stderr io.Writer) error {
	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return err
	}
	applyServerFlags(cmd, f, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := NewLogger(stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	rc := &server.RunConfig{
		Config: server.Config{
			Port:            cfg.Server.Port,
			Logger:          logger,
			HealthAddr:      cfg.Server.HealthAddr,
			IOTimeout:       config.Millis(cfg.Server.IOTimeoutMs),
			MaxRequestBytes: cfg.Server.MaxRequestBytes,
			ShutdownGrace:   config.Millis(cfg.Server.ShutdownGraceMs),
		},
		PIDFile: cfg.Server.PIDFile,
	}

	if cfg.Server.HistoryEnabled {
		store, err := history.Open(cfg.HistoryPath(nil), history.Options{
			Retention: cfg.HistoryRetention(),
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close history", "error", err)
			}
		}()
		rc.History = store
	}

	return server.Run(cmd.Context(), rc)
}

func applyServerFlags(cmd *cobra.Command, f *serverFlags, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = f.port
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if flags.Changed("history-db") {
		cfg.Server.HistoryDB = f.historyDB
	}
	if f.noHistory {
		cfg.Server.HistoryEnabled = false
	}
	if flags.Changed("health-addr") {
		cfg.Server.HealthAddr = f.healthAddr
	}
	if flags.Changed("pid-file") {
		cfg.Server.PIDFile = f.pidFile
	}
	if flags.Changed("io-timeout") {
		cfg.Server.IOTimeoutMs = int(f.ioTimeout / time.Millisecond)
	}
	if flags.Changed("max-request-bytes") {
		cfg.Server.MaxRequestBytes = f.maxRequestBytes
	}
	if flags.Changed("shutdown-grace") {
		cfg.Server.ShutdownGraceMs = int(f.shutdownGrace / time.Millisecond)
	}
}
