package socket

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// DefaultBufferSize is the input and output buffer size used when none is
// configured. Protocol messages are short lines, so a small buffer is enough;
// larger values change nothing but the number of system calls.
const DefaultBufferSize = 256

// Channel is a buffered byte stream over one connected socket descriptor.
//
// The input buffer holds bytes between the consume cursor r and the fill
// cursor w. The output buffer holds n pending bytes that are sent by Flush.
// A Channel is not safe for concurrent use.
type Channel struct {
	fd int

	in   []byte
	r, w int

	out []byte
	n   int

	maxLine int
	closed  bool
	logger  *slog.Logger
}

// NewChannel wraps fd. Sizes <= 0 select DefaultBufferSize.
func NewChannel(fd, inSize, outSize int, logger *slog.Logger) *Channel {
	if inSize <= 0 {
		inSize = DefaultBufferSize
	}
	if outSize <= 0 {
		outSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		fd:     fd,
		in:     make([]byte, inSize),
		out:    make([]byte, outSize),
		logger: logger,
	}
}

// Fd returns the underlying descriptor.
func (c *Channel) Fd() int { return c.fd }

// Buffered returns the number of received bytes not yet consumed.
func (c *Channel) Buffered() int { return c.w - c.r }

// Pending returns the number of written bytes not yet sent.
func (c *Channel) Pending() int { return c.n }

// SetMaxLineLength bounds ReadLine and ReadToken. Zero means unbounded.
func (c *Channel) SetMaxLineLength(n int) { c.maxLine = n }

// Fill performs a single receive into the free part of the input buffer.
// It returns the number of bytes received, or 0 when the peer closed the
// connection in an orderly way.
func (c *Channel) Fill() (int, error) {
	if c.closed {
		return 0, ErrInvalidState
	}
	if c.r > 0 {
		c.w = copy(c.in, c.in[c.r:c.w])
		c.r = 0
	}
	if c.w == len(c.in) {
		return 0, ErrBufferFull
	}

	for {
		n, err := unix.Read(c.fd, c.in[c.w:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, &TransportError{Op: "recv", Err: classify(err)}
		}
		c.w += n
		return n, nil
	}
}

// ReadByte consumes one byte.
func (c *Channel) ReadByte() (byte, error) {
	if c.r == c.w {
		if err := c.more(); err != nil {
			return 0, err
		}
	}
	b := c.in[c.r]
	c.r++
	return b, nil
}

// ReadToken skips leading whitespace and returns the following run of
// non-whitespace bytes. The byte that ends the token stays buffered.
// At end of stream the partial token is returned together with io.EOF.
func (c *Channel) ReadToken() (string, error) {
	for {
		for c.r < c.w && isSpace(c.in[c.r]) {
			c.r++
		}
		if c.r < c.w {
			break
		}
		if err := c.more(); err != nil {
			return "", err
		}
	}

	var tok []byte
	for {
		i := c.r
		for i < c.w && !isSpace(c.in[i]) {
			i++
		}
		tok = append(tok, c.in[c.r:i]...)
		c.r = i
		if i < c.w {
			return string(tok), nil
		}
		if c.maxLine > 0 && len(tok) > c.maxLine {
			return string(tok), ErrLineTooLong
		}
		if err := c.more(); err != nil {
			return string(tok), err
		}
	}
}

// ReadLine returns the bytes up to the next newline, without it. Lines longer
// than the input buffer are assembled across several fills. At end of stream
// the partial line is returned together with io.EOF.
func (c *Channel) ReadLine() (string, error) {
	var line []byte
	for {
		if i := bytes.IndexByte(c.in[c.r:c.w], '\n'); i >= 0 {
			line = append(line, c.in[c.r:c.r+i]...)
			c.r += i + 1
			if c.maxLine > 0 && len(line) > c.maxLine {
				return string(line), ErrLineTooLong
			}
			return string(line), nil
		}
		line = append(line, c.in[c.r:c.w]...)
		c.r = c.w
		if c.maxLine > 0 && len(line) > c.maxLine {
			return string(line), ErrLineTooLong
		}
		if err := c.more(); err != nil {
			return string(line), err
		}
	}
}

// more refills an empty input buffer, mapping an orderly close to io.EOF.
func (c *Channel) more() error {
	n, err := c.Fill()
	if err != nil {
		return err
	}
	if n == 0 {
		return io.EOF
	}
	return nil
}

// Write appends p to the output buffer, flushing each time it fills up.
func (c *Channel) Write(p []byte) (int, error) {
	if c.closed {
		return 0, ErrInvalidState
	}
	written := 0
	for len(p) > 0 {
		k := copy(c.out[c.n:], p)
		c.n += k
		p = p[k:]
		if c.n == len(c.out) {
			if err := c.Flush(); err != nil {
				return written, err
			}
		}
		written += k
	}
	return written, nil
}

// WriteString is Write for strings.
func (c *Channel) WriteString(s string) (int, error) {
	return c.Write([]byte(s))
}

// Flush sends every buffered byte, looping over partial sends. On failure the
// unsent bytes are discarded and a *TransportError is returned.
func (c *Channel) Flush() error {
	if c.closed {
		return ErrInvalidState
	}
	buf := c.out[:c.n]
	c.n = 0
	for len(buf) > 0 {
		n, err := unix.Write(c.fd, buf)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return &TransportError{Op: "send", Err: classify(err)}
		}
		if n == 0 {
			return &TransportError{Op: "send", Err: io.ErrShortWrite}
		}
		buf = buf[n:]
	}
	return nil
}

// Close flushes pending output and releases the descriptor. A flush failure
// is logged, not returned.
func (c *Channel) Close() error {
	if c.closed {
		return nil
	}
	if c.n > 0 {
		if err := c.Flush(); err != nil {
			c.logger.Warn("failed to flush on close", "fd", c.fd, "error", err)
		}
	}
	c.closed = true

	err := unix.Close(c.fd)
	c.logger.Debug("socket closed", "pid", os.Getpid(), "fd", c.fd)
	if err != nil {
		return os.NewSyscallError("close", err)
	}
	return nil
}

// classify maps an expired SO_RCVTIMEO/SO_SNDTIMEO to ErrTimeout.
func classify(err error) error {
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
		return ErrTimeout
	}
	return err
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}
