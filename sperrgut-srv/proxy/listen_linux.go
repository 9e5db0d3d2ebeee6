//go:build linux

package proxy

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listenBacklog is the accept queue length requested from the kernel.
const listenBacklog = 20

// listenTCP4 binds an IPv4 listener with SO_REUSEADDR, so a restarted proxy
// can bind while old connections sit in TIME_WAIT, and a short accept queue.
func listenTCP4(address string) (net.Listener, error) {
	addr, err := net.ResolveTCPAddr("tcp4", address)
	if err != nil {
		return nil, err
	}
	sa := &unix.SockaddrInet4{Port: addr.Port}
	if addr.IP != nil {
		ip4 := addr.IP.To4()
		if ip4 == nil {
			return nil, fmt.Errorf("%s is not an IPv4 address", addr.IP)
		}
		copy(sa.Addr[:], ip4)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	if err := bindAndListen(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	// FileListener dups the descriptor; the file only carries it across.
	f := os.NewFile(uintptr(fd), "tcp4:"+address)
	defer f.Close()
	return net.FileListener(f)
}

func bindAndListen(fd int, sa unix.Sockaddr) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		return os.NewSyscallError("listen", err)
	}
	return nil
}
