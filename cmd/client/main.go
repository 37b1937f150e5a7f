// client prints the entries of a directory on a remote LD/1.0 server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Zycon42/list-dir/internal/cmd"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// A second signal terminates the process immediately.
	context.AfterFunc(ctx, stop)

	c := cmd.NewClientCommand(os.Stdout, os.Stderr)
	return cmd.Execute(ctx, c, os.Args[1:], os.Stderr)
}
