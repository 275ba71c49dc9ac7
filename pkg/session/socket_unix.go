//go:build !linux && !windows

package session

import "syscall"

// setSockOptReuse включает SO_REUSEADDR; SO_REUSEPORT есть не на всех платформах
func setSockOptReuse(fd int) error {
	return syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
}
