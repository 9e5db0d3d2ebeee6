//go:build !linux

package proxy

import "net"

// listenTCP4 binds an IPv4 listener. The runtime already sets SO_REUSEADDR
// on Unix listeners; the accept queue uses the system default.
func listenTCP4(address string) (net.Listener, error) {
	return net.Listen("tcp4", address)
}
