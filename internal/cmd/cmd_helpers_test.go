package cmd

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Zycon42/list-dir/internal/server"
)

// noConfig points --config at a file that does not exist so tests never read
// the user's configuration.
func noConfig(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "absent.yaml")
}

func startServer(t *testing.T) string {
	t.Helper()

	srv, err := server.NewServer(&server.Config{})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(context.Background()) }()
	select {
	case <-srv.Ready():
	case err := <-errCh:
		t.Fatalf("Serve failed: %v", err)
	}
	t.Cleanup(func() {
		srv.Shutdown()
		<-errCh
	})
	return "127.0.0.1:" + strconv.Itoa(srv.Port())
}

func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func waitListening(t *testing.T, addr string) {
	t.Helper()

	require.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp4", addr, 100*time.Millisecond)
		if err != nil {
			return false
		}
		_ = c.Close()
		return true
	}, 5*time.Second, 20*time.Millisecond)
}

type result struct {
	code   int
	stdout string
	stderr string
}

func runClientCmd(t *testing.T, args ...string) result {
	t.Helper()

	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), NewClientCommand(&stdout, &stderr), args, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}
