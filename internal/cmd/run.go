// Package cmd implements the client and server command lines.
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Zycon42/list-dir/internal/config"
	"github.com/Zycon42/list-dir/internal/display"
)

// usageError is returned for malformed command lines. Its message is the
// whole diagnostic.
type usageError struct {
	usage string
}

func (e *usageError) Error() string { return e.usage }

// Execute runs c with args and prints a failure as a single line on stderr.
// It returns the process exit code.
func Execute(ctx context.Context, c *cobra.Command, args []string, stderr io.Writer) int {
	c.SetArgs(args)
	c.SetErr(stderr)
	c.SilenceUsage = true
	c.SilenceErrors = true

	err := c.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	mode := display.ColorAuto
	if f := c.Flags().Lookup("color"); f != nil {
		if m, perr := display.ParseColorMode(f.Value.String()); perr == nil {
			mode = m
		}
	}
	styles := display.NewStyles(display.NewRenderer(stderr, mode))
	fmt.Fprintln(stderr, styles.Error.Render(err.Error()))
	return 1
}

// loadConfig reads path, or the default config file when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFromFile(path)
}
