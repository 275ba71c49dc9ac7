//go:build windows

package session

import "syscall"

// setSockOptReuse на Windows SO_REUSEADDR ведет себя как SO_REUSEPORT
func setSockOptReuse(fd int) error {
	return syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
}
