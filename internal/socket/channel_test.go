package socket

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// socketPair returns a Channel over one end of a connected socket pair and
// the raw descriptor of the other end.
func socketPair(t *testing.T, inSize, outSize int) (*Channel, int) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	ch := NewChannel(fds[0], inSize, outSize, nil)
	t.Cleanup(func() {
		_ = ch.Close()
		_ = unix.Close(fds[1])
	})
	return ch, fds[1]
}

func writeRaw(t *testing.T, fd int, s string) {
	t.Helper()
	_, err := unix.Write(fd, []byte(s))
	require.NoError(t, err)
}

func readRaw(t *testing.T, fd, n int) string {
	t.Helper()
	buf := make([]byte, 0, n)
	tmp := make([]byte, n)
	for len(buf) < n {
		k, err := unix.Read(fd, tmp[:n-len(buf)])
		require.NoError(t, err)
		if k == 0 {
			break
		}
		buf = append(buf, tmp[:k]...)
	}
	return string(buf)
}

func TestNewChannel_DefaultSizes(t *testing.T) {
	t.Parallel()

	ch := NewChannel(-1, 0, -5, nil)
	assert.Len(t, ch.in, DefaultBufferSize)
	assert.Len(t, ch.out, DefaultBufferSize)
	assert.NotNil(t, ch.logger)
}

func TestChannel_Fill(t *testing.T) {
	t.Parallel()

	ch, peer := socketPair(t, 16, 16)
	writeRaw(t, peer, "abc")

	n, err := ch.Fill()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, ch.Buffered())
}

func TestChannel_FillOrderlyClose(t *testing.T) {
	t.Parallel()

	ch, peer := socketPair(t, 16, 16)
	require.NoError(t, unix.Shutdown(peer, unix.SHUT_WR))

	n, err := ch.Fill()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestChannel_FillCompactsConsumedInput(t *testing.T) {
	t.Parallel()

	ch, peer := socketPair(t, 4, 4)
	writeRaw(t, peer, "abcd")
	_, err := ch.Fill()
	require.NoError(t, err)

	_, err = ch.Fill()
	require.ErrorIs(t, err, ErrBufferFull)

	b, err := ch.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('a'), b)

	writeRaw(t, peer, "e")
	n, err := ch.Fill()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "bcde", string(ch.in[ch.r:ch.w]))
}

func TestChannel_ReadLine(t *testing.T) {
	t.Parallel()

	ch, peer := socketPair(t, 64, 64)
	writeRaw(t, peer, "first\nsecond\n")

	line, err := ch.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "first", line)

	line, err = ch.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "second", line)
}

func TestChannel_ReadLineLongerThanBuffer(t *testing.T) {
	t.Parallel()

	ch, peer := socketPair(t, 8, 8)
	long := strings.Repeat("x", 50)
	go func() {
		_, _ = unix.Write(peer, []byte(long+"\ntail\n"))
	}()

	line, err := ch.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, long, line)

	line, err = ch.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "tail", line)
}

func TestChannel_ReadLinePartialAtEOF(t *testing.T) {
	t.Parallel()

	ch, peer := socketPair(t, 16, 16)
	writeRaw(t, peer, "a\nrest")
	require.NoError(t, unix.Shutdown(peer, unix.SHUT_WR))

	line, err := ch.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "a", line)

	line, err = ch.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "rest", line)

	line, err = ch.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
	assert.Empty(t, line)
}

func TestChannel_ReadLineMaxLength(t *testing.T) {
	t.Parallel()

	ch, peer := socketPair(t, 8, 8)
	ch.SetMaxLineLength(10)
	go func() {
		_, _ = unix.Write(peer, []byte(strings.Repeat("y", 40)+"\n"))
	}()

	_, err := ch.ReadLine()
	assert.ErrorIs(t, err, ErrLineTooLong)
}

func TestChannel_ReadToken(t *testing.T) {
	t.Parallel()

	ch, peer := socketPair(t, 64, 64)
	writeRaw(t, peer, "  LD/1.0 0 OK\n")

	tok, err := ch.ReadToken()
	require.NoError(t, err)
	assert.Equal(t, "LD/1.0", tok)

	// delimiter stays buffered
	b, err := ch.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(' '), b)

	tok, err = ch.ReadToken()
	require.NoError(t, err)
	assert.Equal(t, "0", tok)

	line, err := ch.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, " OK", line)
}

func TestChannel_ReadTokenAtEOF(t *testing.T) {
	t.Parallel()

	ch, peer := socketPair(t, 16, 16)
	writeRaw(t, peer, "   ")
	require.NoError(t, unix.Shutdown(peer, unix.SHUT_WR))

	tok, err := ch.ReadToken()
	assert.ErrorIs(t, err, io.EOF)
	assert.Empty(t, tok)
}

func TestChannel_WriteFlushesWhenFull(t *testing.T) {
	t.Parallel()

	ch, peer := socketPair(t, 4, 4)

	n, err := ch.WriteString("abcdef")
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, 2, ch.Pending())
	assert.Equal(t, "abcd", readRaw(t, peer, 4))

	require.NoError(t, ch.Flush())
	assert.Equal(t, 0, ch.Pending())
	assert.Equal(t, "ef", readRaw(t, peer, 2))
}

func TestChannel_FlushToClosedPeer(t *testing.T) {
	t.Parallel()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	ch := NewChannel(fds[0], 16, 16, nil)
	defer ch.Close()
	require.NoError(t, unix.Close(fds[1]))

	_, err = ch.WriteString("hello")
	require.NoError(t, err)

	// EPIPE; the runtime only dies on SIGPIPE for stdout and stderr.
	err = ch.Flush()
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "send", te.Op)
	assert.Equal(t, 0, ch.Pending())
}

func TestChannel_CloseFlushesAndIsIdempotent(t *testing.T) {
	t.Parallel()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])

	ch := NewChannel(fds[0], 16, 16, nil)
	_, err = ch.WriteString("bye\n")
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.Equal(t, "bye\n", readRaw(t, fds[1], 4))

	_, err = ch.Fill()
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = ch.WriteString("x")
	assert.ErrorIs(t, err, ErrInvalidState)
}
