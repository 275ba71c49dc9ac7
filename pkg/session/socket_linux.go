//go:build linux

package session

import (
	"golang.org/x/sys/unix"
)

// setSockOptReuse включает SO_REUSEADDR и SO_REUSEPORT, чтобы несколько сокетов
// могли слушать один порт с распределением нагрузки на уровне ядра
func setSockOptReuse(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}
