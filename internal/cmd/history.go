package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Zycon42/list-dir/internal/display"
	"github.com/Zycon42/list-dir/internal/history"
	"github.com/Zycon42/list-dir/internal/protocol"
)

type historyFlags struct {
	configPath string
	historyDB  string
	limit      int
	color      string
}

func newHistoryCommand(stdout io.Writer) *cobra.Command {
	f := &historyFlags{}

	c := &cobra.Command{
		Use:   "history",
		Short: "Show recently handled requests",
		Long: `Show the most recent requests recorded by the server, newest first.

Examples:
  server history                 # Show last 20 requests
  server history --limit=100     # Show last 100 requests`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd, f, stdout)
		},
	}

	c.Flags().StringVar(&f.configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/list-dir/config.yaml)")
	c.Flags().StringVar(&f.historyDB, "history-db", "", "Request history database path")
	c.Flags().IntVarP(&f.limit, "limit", "n", 20, "Maximum number of requests to show")
	c.Flags().StringVar(&f.color, "color", "auto", "Colorize output (auto, always, never)")
	return c
}

func runHistory(cmd *cobra.Command, f *historyFlags, stdout io.Writer) error {
	mode, err := display.ParseColorMode(f.color)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("history-db") {
		cfg.Server.HistoryDB = f.historyDB
	}

	path := cfg.HistoryPath(nil)
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(stdout, "No history available. Database not found at: %s\n", path)
		return nil
	}

	// read-only use: keep the open store from pruning
	store, err := history.Open(path, history.Options{Retention: -1})
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	records, err := store.Recent(ctx, f.limit)
	if err != nil {
		return fmt.Errorf("failed to query history: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(stdout, "No requests recorded yet.")
		return nil
	}

	styles := display.NewStyles(display.NewRenderer(stdout, mode))
	width := 0
	if out, ok := stdout.(*os.File); ok {
		width = display.TerminalWidth(out)
	}
	return historyTable(records, styles, width).Render(stdout)
}

const (
	colTime = iota
	colRemote
	colStatus
	colEntries
	colDuration
	colPath
)

func historyTable(records []history.Record, styles display.Styles, width int) *display.Table {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		status := r.Status.String()
		if r.Error != "" {
			status += " (" + r.Error + ")"
		}
		rows = append(rows, []string{
			colTime:     r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			colRemote:   r.Remote,
			colStatus:   status,
			colEntries:  strconv.Itoa(r.Entries),
			colDuration: formatDuration(r.Duration),
			colPath:     display.SafeName(r.Path),
		})
	}

	return &display.Table{
		Headers:     []string{"TIME", "REMOTE", "STATUS", "ENTRIES", "DURATION", "PATH"},
		Rows:        rows,
		Shrink:      colPath,
		MaxWidth:    width,
		HeaderStyle: styles.Header,
		CellStyle: func(row, col int, _ string) lipgloss.Style {
			switch col {
			case colTime, colDuration:
				return styles.Dim
			case colStatus:
				r := records[row]
				if r.Status == protocol.StatusOK && r.Error == "" {
					return styles.OK
				}
				return styles.Error
			}
			return lipgloss.NewStyle()
		},
	}
}

func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	return fmt.Sprintf("%dm%ds", ms/60000, (ms%60000)/1000)
}
