//go:build linux

package v4l2

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl issues a V4L2 ioctl, retrying when interrupted by a signal.
func ioctl(fd int, req uint, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
		if errno == 0 {
			return nil
		}
		if errno != unix.EINTR {
			return errno
		}
	}
}

// openProbe opens a device node for short-lived queries that must never block.
func openProbe(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
}

// openStreaming opens a device node in blocking mode so DQBUF waits for a buffer.
func openStreaming(path string) (int, error) {
	for {
		fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return fd, err
	}
}

func closeFd(fd int) error {
	return unix.Close(fd)
}
