// Package client requests directory listings from an LD/1.0 server.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Zycon42/list-dir/internal/protocol"
	"github.com/Zycon42/list-dir/internal/resolver"
	"github.com/Zycon42/list-dir/internal/socket"
)

// ErrEmptyPath is returned before any network activity when no path is given.
var ErrEmptyPath = errors.New("Path is empty") //nolint:staticcheck // ST1005: user-facing message

// ParseAddress splits HOST:PORT. The host may be a bracketed IPv6 literal;
// otherwise it ends at the first colon.
func ParseAddress(addr string) (host, port string, err error) {
	if strings.HasPrefix(addr, "[") {
		end := strings.Index(addr, "]")
		if end < 0 {
			return "", "", fmt.Errorf("missing ']' in address %q", addr)
		}
		host = addr[1:end]
		rest := addr[end+1:]
		if !strings.HasPrefix(rest, ":") {
			return "", "", fmt.Errorf("missing port in address %q", addr)
		}
		port = rest[1:]
	} else {
		var ok bool
		host, port, ok = strings.Cut(addr, ":")
		if !ok {
			return "", "", fmt.Errorf("missing port in address %q", addr)
		}
	}
	if host == "" {
		return "", "", fmt.Errorf("missing host in address %q", addr)
	}
	if port == "" {
		return "", "", fmt.Errorf("missing port in address %q", addr)
	}
	return host, port, nil
}

// Options configures a Client.
type Options struct {
	// ConnectTimeout bounds each connect attempt. Default: none
	ConnectTimeout time.Duration

	// IOTimeout bounds each send and receive. Default: none
	IOTimeout time.Duration

	// Lookup replaces the system name service (optional)
	Lookup resolver.Lookup

	// Logger is the structured logger (optional, uses default if nil)
	Logger *slog.Logger
}

// Client lists remote directories.
type Client struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Client.
func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{opts: opts, logger: logger}
}

// List resolves host and port, connects to the first reachable endpoint,
// requests path and calls fn for every entry in the order received. A status
// other than OK is returned as a *protocol.StatusError. Canceling ctx stops
// the request at any stage; List then returns an error matching ctx.Err().
func (c *Client) List(ctx context.Context, host, port, path string, fn func(entry string) error) error {
	if path == "" {
		return ErrEmptyPath
	}

	var ropts []resolver.Option
	if c.opts.Lookup != nil {
		ropts = append(ropts, resolver.WithLookup(c.opts.Lookup))
	}
	res := resolver.New(ropts...)
	defer res.Close()

	seq, err := res.Resolve(ctx, host, port)
	if err != nil {
		return err
	}

	conn := socket.NewConnection(socket.Options{
		ConnectTimeout: c.opts.ConnectTimeout,
		IOTimeout:      c.opts.IOTimeout,
		Logger:         c.logger,
	})
	defer conn.Close()

	if err := conn.ConnectFirstReachable(ctx, seq); err != nil {
		return err
	}
	c.logger.Debug("sending request", "endpoint", conn.Endpoint().String(), "path", path)

	// Canceling ctx shuts the socket down, which wakes a blocked send or
	// receive. Reads then see end of stream, so the result is replaced by
	// the context error.
	stop := context.AfterFunc(ctx, conn.Abort)
	defer stop()

	err = c.exchange(conn, path, fn)
	if conn.Aborted() {
		return ctx.Err()
	}
	return err
}

func (c *Client) exchange(conn *socket.Connection, path string, fn func(entry string) error) error {
	if err := protocol.WriteRequest(conn, protocol.Request{Path: path}); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	status, msg, err := protocol.ReadStatusLine(conn)
	if err != nil {
		return err
	}
	if status != protocol.StatusOK {
		if msg == "" {
			msg = status.Message()
		}
		return &protocol.StatusError{Status: status, Message: msg}
	}
	return protocol.EachEntry(conn, fn)
}

// ListDirectory is List collecting the entries into a slice.
func (c *Client) ListDirectory(ctx context.Context, host, port, path string) ([]string, error) {
	var entries []string
	err := c.List(ctx, host, port, path, func(e string) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
