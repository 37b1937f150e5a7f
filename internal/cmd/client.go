package cmd

import (
	"bufio"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zycon42/list-dir/internal/client"
	"github.com/Zycon42/list-dir/internal/config"
	"github.com/Zycon42/list-dir/internal/display"
)

const clientUsage = "Usage: client HOST:PORT PATH"

type clientFlags struct {
	configPath     string
	logLevel       string
	connectTimeout time.Duration
	timeout        time.Duration
	color          string
	raw            bool
}

// NewClientCommand builds the client command writing entries to stdout and
// logs to stderr.
func NewClientCommand(stdout, stderr io.Writer) *cobra.Command {
	f := &clientFlags{}

	c := &cobra.Command{
		Use:   "client HOST:PORT PATH",
		Short: "List a directory on an LD/1.0 server",
		Long: `List the entries of an absolute directory PATH on the server at HOST:PORT.

HOST may be a name, an IPv4 address or a bracketed IPv6 literal. Every
address HOST resolves to is tried in order until one accepts the
connection. Entries are printed one per line in the order received.`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 2 {
				return &usageError{usage: clientUsage}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd, f, args, stdout, stderr)
		},
	}

	flags := c.Flags()
	flags.StringVar(&f.configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/list-dir/config.yaml)")
	flags.StringVar(&f.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flags.DurationVar(&f.connectTimeout, "connect-timeout", 0, "Timeout for each connect attempt (0 = none)")
	flags.DurationVar(&f.timeout, "timeout", 0, "Timeout for each send and receive (0 = none)")
	flags.StringVar(&f.color, "color", "auto", "Colorize diagnostics (auto, always, never)")
	flags.BoolVar(&f.raw, "raw", false, "Print entry names exactly as received")
	return c
}

func runClient(cmd *cobra.Command, f *clientFlags, args []string, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("connect-timeout") {
		cfg.Client.ConnectTimeoutMs = int(f.connectTimeout / time.Millisecond)
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Client.TimeoutMs = int(f.timeout / time.Millisecond)
	}
	if cmd.Flags().Changed("color") {
		cfg.Client.Color = f.color
	} else {
		// Execute reads the flag to style the diagnostic
		_ = cmd.Flags().Set("color", cfg.Client.Color)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := NewLogger(stderr, f.logLevel, "text")
	if err != nil {
		return err
	}

	host, port, err := client.ParseAddress(args[0])
	if err != nil {
		return err
	}

	sanitize := !f.raw
	if out, ok := stdout.(*os.File); ok && !display.IsTerminal(out) {
		sanitize = false
	}

	w := bufio.NewWriter(stdout)
	defer w.Flush()

	c := client.New(client.Options{
		ConnectTimeout: config.Millis(cfg.Client.ConnectTimeoutMs),
		IOTimeout:      config.Millis(cfg.Client.TimeoutMs),
		Logger:         logger,
	})
	return c.List(cmd.Context(), host, port, args[1], func(entry string) error {
		if sanitize {
			entry = display.SafeName(entry)
		}
		if _, err := w.WriteString(entry); err != nil {
			return err
		}
		return w.WriteByte('\n')
	})
}
