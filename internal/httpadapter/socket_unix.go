//go:build linux || darwin

package httpadapter

import "syscall"

// setSocketOptions tunes a freshly-dialed connection's kernel buffers
// for sustained high-throughput ranged transfers.
func setSocketOptions(fd uintptr) {
	syscall.SetsockoptInt(int(fd), syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1)
	syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF, 1024*1024)
	syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_SNDBUF, 1024*1024)
}
