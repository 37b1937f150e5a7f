// Package socket provides TCP connections built directly on socket
// descriptors, with a buffered line and token oriented stream on top.
package socket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Zycon42/list-dir/internal/resolver"
)

// DefaultBacklog is the listen(2) backlog used when none is configured.
const DefaultBacklog = 128

// maxLingerBytes bounds the input CloseGracefully discards.
const maxLingerBytes = 1 << 20

// State is the lifecycle state of a Connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateListening
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Connection and every Connection it accepts.
type Options struct {
	// InBufferSize and OutBufferSize size the Channel buffers.
	// Zero selects DefaultBufferSize.
	InBufferSize  int
	OutBufferSize int

	// ConnectTimeout bounds each connect attempt. Zero waits indefinitely.
	ConnectTimeout time.Duration

	// IOTimeout bounds every blocking send and receive. Zero waits
	// indefinitely.
	IOTimeout time.Duration

	// Backlog is the listen(2) backlog. Zero selects DefaultBacklog.
	Backlog int

	// MaxLineLength bounds a single line or token read from the peer.
	// Zero means unbounded.
	MaxLineLength int

	// Logger receives diagnostics (optional, uses default if nil)
	Logger *slog.Logger
}

// Connection owns one socket descriptor and its Channel and tracks their
// lifecycle: Idle -> Connecting/Listening -> Active -> Closed.
//
// Close must not run concurrently with Accept or with I/O on an Active
// connection; use Interrupt or Abort to wake the blocked goroutine first.
// Close during ConnectFirstReachable is allowed and makes the attempt fail.
type Connection struct {
	mu       sync.Mutex
	state    State
	fd       int
	ch       *Channel
	endpoint resolver.Endpoint
	remote   string
	port     int

	// wake pipe while listening or connecting
	wakeR, wakeW int
	aborted      bool

	opts   Options
	logger *slog.Logger
	ops    sysOps
}

// NewConnection returns an Idle connection.
func NewConnection(opts Options) *Connection {
	return newConnection(opts, unixOps{})
}

func newConnection(opts Options, ops sysOps) *Connection {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		state:  StateIdle,
		fd:     -1,
		wakeR:  -1,
		wakeW:  -1,
		opts:   opts,
		logger: logger,
		ops:    ops,
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Endpoint returns the endpoint an outgoing connection is bound to.
func (c *Connection) Endpoint() resolver.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// RemoteAddr returns the peer address of an active connection.
func (c *Connection) RemoteAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// Port returns the local port of a listening connection.
func (c *Connection) Port() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

// ConnectFirstReachable tries the endpoints of seq one at a time, in order,
// and keeps the first that accepts the connection. Each failed attempt
// releases its descriptor before the next one starts. When no endpoint
// succeeds the connection is closed and a *ConnectionError carrying the
// last failure is returned.
//
// Canceling ctx, Abort or Close from another goroutine wake a pending
// attempt; the connection then ends up Closed.
func (c *Connection) ConnectFirstReachable(ctx context.Context, seq *resolver.Sequence) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("connect in state %s: %w", c.state, ErrInvalidState)
	}
	wakeR, wakeW, err := newWakePipe()
	if err != nil {
		c.state = StateClosed
		c.mu.Unlock()
		return &ConnectionError{Err: err}
	}
	c.wakeR, c.wakeW = wakeR, wakeW
	c.state = StateConnecting
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, c.Abort)
	defer stop()

	var lastErr error
	attempts := 0
	for ep := range seq.All() {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		if c.connectCanceled() {
			lastErr = ErrInterrupted
			break
		}
		attempts++

		fd, err := c.dial(ep, wakeR)
		if err != nil {
			c.logger.Debug("connect attempt failed", "endpoint", ep.String(), "error", err)
			lastErr = err
			continue
		}

		c.mu.Lock()
		if c.state != StateConnecting || c.aborted {
			closed := c.state == StateClosed
			c.state = StateClosed
			c.releaseWake()
			c.mu.Unlock()
			c.closeFD(fd)
			if closed {
				return fmt.Errorf("connection closed during connect: %w", ErrInvalidState)
			}
			return &ConnectionError{Attempts: attempts, Err: abortCause(ctx)}
		}
		c.fd = fd
		c.ch = c.newChannel(fd)
		c.endpoint = ep
		c.remote = ep.AddrPort().String()
		c.state = StateActive
		c.releaseWake()
		c.mu.Unlock()

		c.logger.Debug("connected", "endpoint", ep.String(), "attempts", attempts)
		return nil
	}

	c.mu.Lock()
	closed := c.state == StateClosed
	c.state = StateClosed
	c.releaseWake()
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("connection closed during connect: %w", ErrInvalidState)
	}
	if errors.Is(lastErr, ErrInterrupted) {
		lastErr = abortCause(ctx)
	}
	return &ConnectionError{Attempts: attempts, Err: lastErr}
}

// connectCanceled reports whether Abort or Close ran during the connect.
func (c *Connection) connectCanceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted || c.state != StateConnecting
}

func abortCause(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrInterrupted
}

// releaseWake closes the wake pipe. Callers hold mu.
func (c *Connection) releaseWake() {
	if c.wakeR < 0 {
		return
	}
	unix.Close(c.wakeR)
	unix.Close(c.wakeW)
	c.wakeR, c.wakeW = -1, -1
}

// wake writes to the wake pipe. Callers hold mu.
func (c *Connection) wake() error {
	if c.wakeW < 0 {
		return nil
	}
	_, err := unix.Write(c.wakeW, []byte{1})
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return os.NewSyscallError("write", err)
	}
	return nil
}

// dial opens a descriptor for ep and connects it. The descriptor is closed
// again if any step fails. A readable wake descriptor ends the attempt with
// ErrInterrupted.
func (c *Connection) dial(ep resolver.Endpoint, wake int) (int, error) {
	sa, err := ep.Sockaddr()
	if err != nil {
		return -1, err
	}
	fd, err := c.ops.socket(ep.Family())
	if err != nil {
		return -1, err
	}
	if err := c.ops.connect(fd, sa, wake, c.opts.ConnectTimeout); err != nil {
		c.closeFD(fd)
		return -1, err
	}
	if err := setIOTimeout(fd, c.opts.IOTimeout); err != nil {
		c.closeFD(fd)
		return -1, err
	}
	return fd, nil
}

func (c *Connection) closeFD(fd int) {
	if err := c.ops.close(fd); err != nil {
		c.logger.Warn("failed to close socket", "fd", fd, "error", err)
		return
	}
	c.logger.Debug("socket closed", "pid", os.Getpid(), "fd", fd)
}

func (c *Connection) newChannel(fd int) *Channel {
	ch := NewChannel(fd, c.opts.InBufferSize, c.opts.OutBufferSize, c.logger)
	ch.SetMaxLineLength(c.opts.MaxLineLength)
	return ch
}

// Listen binds the IPv4 wildcard address on port and starts listening.
// Port 0 selects an ephemeral port; see Port. Failures close the connection
// and return a *BindError.
func (c *Connection) Listen(port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return fmt.Errorf("listen in state %s: %w", c.state, ErrInvalidState)
	}

	fd := -1
	fail := func(op string, err error) error {
		if fd >= 0 {
			unix.Close(fd)
		}
		c.state = StateClosed
		return &BindError{Op: op, Port: port, Err: err}
	}

	if port < 0 || port > 65535 {
		return fail("bind", fmt.Errorf("port out of range"))
	}

	var err error
	fd, err = newSocket(unix.AF_INET)
	if err != nil {
		return fail("socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt", os.NewSyscallError("setsockopt", err))
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		return fail("bind", os.NewSyscallError("bind", err))
	}
	backlog := c.opts.Backlog
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen", os.NewSyscallError("listen", err))
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return fail("listen", os.NewSyscallError("setnonblock", err))
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		return fail("listen", os.NewSyscallError("getsockname", err))
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		c.port = in4.Port
	}

	wakeR, wakeW, err := newWakePipe()
	if err != nil {
		return fail("listen", err)
	}

	c.fd = fd
	c.wakeR, c.wakeW = wakeR, wakeW
	c.state = StateListening
	c.logger.Debug("listening", "fd", fd, "port", c.port, "backlog", backlog)
	return nil
}

// Accept blocks until a client connects and returns it as a new Active
// connection; the receiver stays Listening. It returns ErrInterrupted when
// woken by Interrupt or by a signal before a client arrived.
func (c *Connection) Accept() (*Connection, error) {
	c.mu.Lock()
	if c.state != StateListening {
		c.mu.Unlock()
		return nil, fmt.Errorf("accept in state %s: %w", c.state, ErrInvalidState)
	}
	fd, wake := c.fd, c.wakeR
	c.mu.Unlock()

	for {
		fds := []unix.PollFd{
			{Fd: int32(fd), Events: unix.POLLIN},   //nolint:gosec // G115: fd fits in int32
			{Fd: int32(wake), Events: unix.POLLIN}, //nolint:gosec // G115: fd fits in int32
		}
		_, err := unix.Poll(fds, -1)
		if errors.Is(err, unix.EINTR) {
			return nil, ErrInterrupted
		}
		if err != nil {
			return nil, os.NewSyscallError("poll", err)
		}
		if fds[1].Revents != 0 {
			drain(wake)
			return nil, ErrInterrupted
		}
		if fds[0].Revents == 0 {
			continue
		}

		syscall.ForkLock.RLock()
		nfd, sa, err := unix.Accept(fd)
		if err == nil {
			unix.CloseOnExec(nfd)
		}
		syscall.ForkLock.RUnlock()
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) ||
				errors.Is(err, unix.ECONNABORTED) || errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, os.NewSyscallError("accept", err)
		}

		if err := unix.SetNonblock(nfd, false); err != nil {
			unix.Close(nfd)
			return nil, os.NewSyscallError("setnonblock", err)
		}
		if err := setIOTimeout(nfd, c.opts.IOTimeout); err != nil {
			unix.Close(nfd)
			return nil, err
		}

		peer := newConnection(c.opts, c.ops)
		peer.fd = nfd
		peer.ch = peer.newChannel(nfd)
		peer.remote = sockaddrString(sa)
		peer.state = StateActive
		return peer, nil
	}
}

// Interrupt wakes a goroutine blocked in Accept. It is safe to call from any
// goroutine while the connection is listening.
func (c *Connection) Interrupt() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateListening {
		return fmt.Errorf("interrupt in state %s: %w", c.state, ErrInvalidState)
	}
	return c.wake()
}

// Abort wakes a goroutine blocked connecting, reading or writing on this
// connection. A pending connect fails; blocked reads see end of stream and
// writes fail. The connection is left for Close. Abort is safe to call from
// any goroutine and in any state.
func (c *Connection) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateConnecting:
		c.aborted = true
		if err := c.wake(); err != nil {
			c.logger.Debug("failed to wake connect", "error", err)
		}
	case StateActive:
		c.aborted = true
		if err := unix.Shutdown(c.fd, unix.SHUT_RDWR); err != nil && !errors.Is(err, unix.ENOTCONN) {
			c.logger.Debug("failed to shut down socket", "fd", c.fd, "error", err)
		}
	case StateListening:
		if err := c.wake(); err != nil {
			c.logger.Debug("failed to wake accept", "error", err)
		}
	}
}

// Aborted reports whether Abort ran while connecting or active.
func (c *Connection) Aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// Close flushes pending output and releases the descriptor. It is valid in
// every state and idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return nil
	}
	if c.state == StateConnecting {
		// the connecting goroutine owns the attempt and the wake pipe
		c.state = StateClosed
		return c.wake()
	}
	c.state = StateClosed

	var err error
	switch {
	case c.ch != nil:
		err = c.ch.Close()
		c.ch = nil
	case c.fd >= 0:
		if cerr := unix.Close(c.fd); cerr != nil {
			err = os.NewSyscallError("close", cerr)
		}
		c.logger.Debug("socket closed", "pid", os.Getpid(), "fd", c.fd)
	}
	c.fd = -1

	c.releaseWake()
	return err
}

// CloseGracefully sends pending output and shuts down the sending side,
// then discards peer input for at most linger before closing. Closing with
// unread input makes the kernel reset the connection, and the peer may lose
// the data sent last.
func (c *Connection) CloseGracefully(linger time.Duration) error {
	c.mu.Lock()
	fd, ch := c.fd, c.ch
	active := c.state == StateActive && ch != nil
	c.mu.Unlock()

	if !active {
		return c.Close()
	}
	if err := ch.Flush(); err != nil {
		c.logger.Debug("failed to flush before shutdown", "fd", fd, "error", err)
		return c.Close()
	}
	if err := unix.Shutdown(fd, unix.SHUT_WR); err != nil {
		c.logger.Debug("failed to shut down sending side", "fd", fd, "error", err)
		return c.Close()
	}
	if n := discardInput(fd, linger, maxLingerBytes); n > 0 {
		c.logger.Debug("discarded unread input", "fd", fd, "bytes", n)
	}
	return c.Close()
}

func (c *Connection) channel() (*Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive || c.ch == nil {
		return nil, ErrInvalidState
	}
	return c.ch, nil
}

// ReadByte consumes one byte from the peer.
func (c *Connection) ReadByte() (byte, error) {
	ch, err := c.channel()
	if err != nil {
		return 0, err
	}
	return ch.ReadByte()
}

// ReadToken reads one whitespace-delimited token.
func (c *Connection) ReadToken() (string, error) {
	ch, err := c.channel()
	if err != nil {
		return "", err
	}
	return ch.ReadToken()
}

// ReadLine reads one newline-terminated line.
func (c *Connection) ReadLine() (string, error) {
	ch, err := c.channel()
	if err != nil {
		return "", err
	}
	return ch.ReadLine()
}

// Write buffers p for sending.
func (c *Connection) Write(p []byte) (int, error) {
	ch, err := c.channel()
	if err != nil {
		return 0, err
	}
	return ch.Write(p)
}

// WriteString buffers s for sending.
func (c *Connection) WriteString(s string) (int, error) {
	ch, err := c.channel()
	if err != nil {
		return 0, err
	}
	return ch.WriteString(s)
}

// Flush sends all buffered output.
func (c *Connection) Flush() error {
	ch, err := c.channel()
	if err != nil {
		return err
	}
	return ch.Flush()
}
