// server answers LD/1.0 directory listing requests.
package main

import (
	"context"
	"os"

	"github.com/Zycon42/list-dir/internal/cmd"
)

func main() {
	os.Exit(run())
}

func run() int {
	// signals are handled by the server itself so that a shutdown drains
	// in-flight workers
	c := cmd.NewServerCommand(os.Stdout, os.Stderr)
	return cmd.Execute(context.Background(), c, os.Args[1:], os.Stderr)
}
