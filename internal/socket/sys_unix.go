package socket

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// sysOps is the descriptor-level surface used while establishing outgoing
// connections.
type sysOps interface {
	socket(family int) (int, error)
	connect(fd int, sa unix.Sockaddr, wake int, timeout time.Duration) error
	close(fd int) error
}

type unixOps struct{}

func (unixOps) socket(family int) (int, error) {
	return newSocket(family)
}

// connect performs a non-blocking connect and waits for completion, so that
// an interrupted call and an optional timeout are handled the same way. The
// descriptor is switched back to blocking mode on success. A readable wake
// descriptor (-1 for none) abandons the wait with ErrInterrupted.
func (unixOps) connect(fd int, sa unix.Sockaddr, wake int, timeout time.Duration) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return os.NewSyscallError("setnonblock", err)
	}

	err := unix.Connect(fd, sa)
	switch {
	case err == nil:
	case errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EALREADY), errors.Is(err, unix.EINTR):
		if err := waitWritable(fd, wake, timeout); err != nil {
			return err
		}
		soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return os.NewSyscallError("getsockopt", err)
		}
		if soErr != 0 {
			return os.NewSyscallError("connect", unix.Errno(soErr)) //nolint:gosec // G115: errno values are small
		}
	default:
		return os.NewSyscallError("connect", err)
	}

	if err := unix.SetNonblock(fd, false); err != nil {
		return os.NewSyscallError("setnonblock", err)
	}
	return nil
}

func (unixOps) close(fd int) error {
	if err := unix.Close(fd); err != nil {
		return os.NewSyscallError("close", err)
	}
	return nil
}

// newSocket creates a close-on-exec TCP socket. ForkLock keeps the
// descriptor from leaking into a child started between the two calls.
func newSocket(family int) (int, error) {
	syscall.ForkLock.RLock()
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err == nil {
		unix.CloseOnExec(fd)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	return fd, nil
}

// newWakePipe returns the read and write ends of a non-blocking pipe.
func newWakePipe() (int, int, error) {
	var p [2]int
	syscall.ForkLock.RLock()
	err := unix.Pipe(p[:])
	if err == nil {
		unix.CloseOnExec(p[0])
		unix.CloseOnExec(p[1])
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return -1, -1, os.NewSyscallError("pipe", err)
	}
	for _, fd := range p {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return -1, -1, os.NewSyscallError("setnonblock", err)
		}
	}
	return p[0], p[1], nil
}

// drain empties a non-blocking descriptor.
func drain(fd int) {
	var buf [64]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// discardInput reads and drops input from fd until end of stream or until
// limit bytes were dropped, waiting no longer than timeout in total. It
// returns the number of bytes dropped.
func discardInput(fd int, timeout time.Duration, limit int) int {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 32*1024)
	dropped := 0
	for dropped < limit {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return dropped
		}
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}} //nolint:gosec // G115: fd fits in int32
		n, err := unix.Poll(fds, pollMillis(remaining))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || n == 0 {
			return dropped
		}
		r, err := unix.Read(fd, buf)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || r <= 0 {
			return dropped
		}
		dropped += r
	}
	return dropped
}

func waitWritable(fd, wake int, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		wait := -1
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return fmt.Errorf("connect: %w", ErrTimeout)
			}
			wait = pollMillis(remaining)
		}

		fds := []unix.PollFd{
			{Fd: int32(fd), Events: unix.POLLOUT},  //nolint:gosec // G115: fd fits in int32
			{Fd: int32(wake), Events: unix.POLLIN}, //nolint:gosec // G115: fd fits in int32
		}
		n, err := unix.Poll(fds, wait)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return os.NewSyscallError("poll", err)
		}
		if fds[1].Revents != 0 {
			return fmt.Errorf("connect: %w", ErrInterrupted)
		}
		if n > 0 {
			return nil
		}
	}
}

// pollMillis rounds d up to whole milliseconds for poll(2).
func pollMillis(d time.Duration) int {
	ms := int((d + time.Millisecond - 1) / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	return ms
}

// setIOTimeout applies SO_RCVTIMEO and SO_SNDTIMEO. Zero leaves the
// descriptor without a timeout.
func setIOTimeout(fd int, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	tv := unix.NsecToTimeval(d.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	return nil
}

// sockaddrString formats an IPv4 or IPv6 socket address.
func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port)).String() //nolint:gosec // G115: ports fit in uint16
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port)).String() //nolint:gosec // G115: ports fit in uint16
	default:
		return "unknown"
	}
}
