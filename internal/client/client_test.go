package client

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zycon42/list-dir/internal/protocol"
	"github.com/Zycon42/list-dir/internal/resolver"
	"github.com/Zycon42/list-dir/internal/server"
	"github.com/Zycon42/list-dir/internal/socket"
)

func TestParseAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in         string
		host, port string
		wantErr    bool
	}{
		{in: "localhost:8080", host: "localhost", port: "8080"},
		{in: "127.0.0.1:http", host: "127.0.0.1", port: "http"},
		{in: "[::1]:9000", host: "::1", port: "9000"},
		{in: "[fe80::1%eth0]:22", host: "fe80::1%eth0", port: "22"},
		{in: "host:1:2", host: "host", port: "1:2"},
		{in: "localhost", wantErr: true},
		{in: "localhost:", wantErr: true},
		{in: ":8080", wantErr: true},
		{in: "[::1]", wantErr: true},
		{in: "[::1:80", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			host, port, err := ParseAddress(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
		})
	}
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
	return strconv.Itoa(srv.Port())
}

// rawServer answers a single connection with resp, ignoring the request.
func rawServer(t *testing.T, resp string) string {
	t.Helper()

	ln := socket.NewConnection(socket.Options{})
	require.NoError(t, ln.Listen(0))
	port := ln.Port()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.ReadLine()
		_, _ = conn.WriteString(resp)
	}()
	t.Cleanup(func() {
		<-done
		_ = ln.Close()
	})
	return strconv.Itoa(port)
}

func TestListDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"a", "b c", "d"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}

	port := startServer(t)
	entries, err := New(Options{}).ListDirectory(context.Background(), "127.0.0.1", port, dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b c", "d"}, entries)
}

func TestListDirectory_FallsBackToIPv4(t *testing.T) {
	t.Parallel()

	// the server listens on IPv4 only, so ::1 is refused first
	lookup := &staticLookup{addrs: []netip.Addr{netip.MustParseAddr("::1"), netip.MustParseAddr("127.0.0.1")}}
	port := startServer(t)

	entries, err := New(Options{Lookup: lookup}).ListDirectory(context.Background(), "localhost", port, t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type staticLookup struct {
	addrs []netip.Addr
}

func (s *staticLookup) LookupNetIP(context.Context, string, string) ([]netip.Addr, error) {
	return s.addrs, nil
}

func (s *staticLookup) LookupPort(_ context.Context, _, service string) (int, error) {
	return strconv.Atoi(service)
}

func (s *staticLookup) LookupCNAME(_ context.Context, host string) (string, error) {
	return host, nil
}

func TestList_StatusError(t *testing.T) {
	t.Parallel()

	port := startServer(t)
	c := New(Options{})

	_, err := c.ListDirectory(context.Background(), "127.0.0.1", port, "relative")
	var se *protocol.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, protocol.StatusNotAbsolute, se.Status)
	assert.Equal(t, "Error: Path must be absolute", err.Error())

	_, err = c.ListDirectory(context.Background(), "127.0.0.1", port, filepath.Join(t.TempDir(), "missing"))
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "Error: Directory doesn't exists", err.Error())
}

func TestList_EmptyPath(t *testing.T) {
	t.Parallel()

	lookup := &countingLookup{}
	_, err := New(Options{Lookup: lookup}).ListDirectory(context.Background(), "127.0.0.1", "1", "")
	assert.ErrorIs(t, err, ErrEmptyPath)
	assert.Equal(t, "Path is empty", err.Error())
	assert.Zero(t, lookup.calls)
}

type countingLookup struct {
	staticLookup
	calls int
}

func (c *countingLookup) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	c.calls++
	return c.staticLookup.LookupNetIP(ctx, network, host)
}

func TestList_InvalidResponse(t *testing.T) {
	t.Parallel()

	port := rawServer(t, "HTTP/1.1 400 Bad Request\r\n\r\n")
	_, err := New(Options{}).ListDirectory(context.Background(), "127.0.0.1", port, "/tmp")

	var pe *protocol.ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "Invalid response status line", err.Error())
}

func TestList_StreamsEntriesInOrder(t *testing.T) {
	t.Parallel()

	port := rawServer(t, "LD/1.0 0 OK\nz\ny\nx\n")

	var got []string
	err := New(Options{}).List(context.Background(), "127.0.0.1", port, "/any", func(e string) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "y", "x"}, got)
}

func TestList_StatusWithoutMessage(t *testing.T) {
	t.Parallel()

	port := rawServer(t, "LD/1.0 42\n")
	_, err := New(Options{}).ListDirectory(context.Background(), "127.0.0.1", port, "/any")
	var se *protocol.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, protocol.Status(42), se.Status)
	assert.Equal(t, "Error: Unknown status 42", err.Error())
}

func TestList_ResolutionError(t *testing.T) {
	t.Parallel()

	_, err := New(Options{}).ListDirectory(context.Background(), "127.0.0.1", "no-such-service-name", "/tmp")
	var re *resolver.ResolutionError
	require.True(t, errors.As(err, &re))
}

func TestList_ConnectionRefused(t *testing.T) {
	t.Parallel()

	ln := socket.NewConnection(socket.Options{})
	require.NoError(t, ln.Listen(0))
	port := strconv.Itoa(ln.Port())
	require.NoError(t, ln.Close())

	_, err := New(Options{ConnectTimeout: time.Second}).ListDirectory(context.Background(), "127.0.0.1", port, "/tmp")
	var ce *socket.ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, err.Error(), "Failed connecting to host")
}

// silentServer accepts one connection, reads the request and never answers.
func silentServer(t *testing.T) string {
	t.Helper()

	ln := socket.NewConnection(socket.Options{})
	require.NoError(t, ln.Listen(0))
	port := ln.Port()

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.ReadLine()
		<-release
	}()
	t.Cleanup(func() {
		close(release)
		<-done
		_ = ln.Close()
	})
	return strconv.Itoa(port)
}

func TestList_CancelWhileWaitingForResponse(t *testing.T) {
	t.Parallel()

	port := silentServer(t)
	c := New(Options{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.ListDirectory(ctx, "127.0.0.1", port, "/")
		errCh <- err
	}()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("List did not return after cancellation")
	}
}

func TestList_CanceledBeforeStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Options{}).ListDirectory(ctx, "127.0.0.1", "1", "/")
	assert.ErrorIs(t, err, context.Canceled)
}
