// Package protocol encodes and decodes LD/1.0 messages.
//
// A request is a single line:
//
//	LD/1.0 <path>\n
//
// A response is a status line followed, for status 0 only, by one line per
// directory entry. The server closes the stream after the last entry.
//
//	LD/1.0 <code> <message>\n
//	<entry>\n
//	...
package protocol

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Zycon42/list-dir/internal/socket"
)

// MagicWord prefixes every request and response.
const MagicWord = "LD/1.0"

// LineReader is the read side of a connection. *socket.Connection and
// *socket.Channel implement it.
type LineReader interface {
	ReadByte() (byte, error)
	ReadToken() (string, error)
	ReadLine() (string, error)
}

// LineWriter is the write side of a connection.
type LineWriter interface {
	WriteString(s string) (int, error)
	Flush() error
}

var (
	_ LineReader = (*socket.Connection)(nil)
	_ LineWriter = (*socket.Connection)(nil)
	_ LineReader = (*socket.Channel)(nil)
	_ LineWriter = (*socket.Channel)(nil)
)

// Request asks the server to list Path.
type Request struct {
	Path string
}

// Response is the server's answer. Entries is empty unless Status is OK.
type Response struct {
	Status  Status
	Message string
	Entries []string
}

// NewResponse builds a response with the standard message for status.
// Entries are dropped for any status other than OK.
func NewResponse(status Status, entries []string) *Response {
	if status != StatusOK {
		entries = nil
	}
	return &Response{Status: status, Message: status.Message(), Entries: entries}
}

// WriteRequest sends req and flushes it.
func WriteRequest(w LineWriter, req Request) error {
	if strings.ContainsRune(req.Path, '\n') {
		return fmt.Errorf("path contains a newline: %q", req.Path)
	}
	if _, err := w.WriteString(MagicWord + " " + req.Path + "\n"); err != nil {
		return err
	}
	return w.Flush()
}

// ReadRequest decodes a request line. Any malformed or truncated input
// yields a *ProtocolError; transport failures are returned unchanged.
// A path terminated by end of stream instead of a newline is accepted.
func ReadRequest(r LineReader) (*Request, error) {
	magic, err := r.ReadToken()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, requestError(err, "failed to read magic word")
	}
	if magic != MagicWord {
		return nil, &ProtocolError{Reason: fmt.Sprintf("invalid magic word %q", magic)}
	}
	if err != nil {
		return nil, &ProtocolError{Reason: "request ended after magic word"}
	}

	c, err := r.ReadByte()
	if errors.Is(err, io.EOF) {
		return nil, &ProtocolError{Reason: "request ended after magic word"}
	}
	if err != nil {
		return nil, err
	}
	if c != ' ' {
		return nil, &ProtocolError{Reason: fmt.Sprintf("expected space after magic word, got %q", c)}
	}

	path, err := r.ReadLine()
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		if path == "" {
			return nil, &ProtocolError{Reason: "request ended before path"}
		}
	default:
		return nil, requestError(err, "failed to read path")
	}
	return &Request{Path: path}, nil
}

func requestError(err error, reason string) error {
	if errors.Is(err, socket.ErrLineTooLong) {
		return &ProtocolError{Reason: reason, Err: err}
	}
	return err
}

// WriteResponse sends resp and flushes it. Entries must not contain
// newlines, and only an OK response may carry entries.
func WriteResponse(w LineWriter, resp *Response) error {
	if resp.Status != StatusOK && len(resp.Entries) > 0 {
		return fmt.Errorf("status %s cannot carry entries", resp.Status)
	}
	msg := resp.Message
	if msg == "" {
		msg = resp.Status.Message()
	}

	var sb strings.Builder
	sb.WriteString(MagicWord)
	sb.WriteByte(' ')
	sb.WriteString(strconv.Itoa(int(resp.Status)))
	sb.WriteByte(' ')
	sb.WriteString(msg)
	sb.WriteByte('\n')
	if _, err := w.WriteString(sb.String()); err != nil {
		return err
	}

	for _, e := range resp.Entries {
		if strings.ContainsRune(e, '\n') {
			return fmt.Errorf("entry contains a newline: %q", e)
		}
		if _, err := w.WriteString(e + "\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ReadStatusLine decodes the first line of a response. The message is
// returned without the separating space.
func ReadStatusLine(r LineReader) (Status, string, error) {
	magic, err := r.ReadToken()
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, "", err
	}
	if magic != MagicWord {
		return 0, "", &ProtocolError{Reason: "Invalid response status line"}
	}

	code, err := r.ReadToken()
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, "", err
	}
	n, convErr := strconv.Atoi(code)
	if code == "" || convErr != nil {
		return 0, "", &ProtocolError{Reason: fmt.Sprintf("invalid status code %q", code), Err: convErr}
	}

	msg, err := r.ReadLine()
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, "", err
	}
	return Status(n), strings.TrimPrefix(msg, " "), nil
}

// EachEntry calls fn for every remaining line until the stream ends. A final
// line without a newline still counts when it is not empty.
func EachEntry(r LineReader, fn func(entry string) error) error {
	for {
		line, err := r.ReadLine()
		if errors.Is(err, io.EOF) {
			if line != "" {
				return fn(line)
			}
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(line); err != nil {
			return err
		}
	}
}

// ReadResponse decodes a complete response. For a status other than OK the
// body is not read.
func ReadResponse(r LineReader) (*Response, error) {
	status, msg, err := ReadStatusLine(r)
	if err != nil {
		return nil, err
	}
	resp := &Response{Status: status, Message: msg}
	if status != StatusOK {
		return resp, nil
	}

	err = EachEntry(r, func(entry string) error {
		resp.Entries = append(resp.Entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
