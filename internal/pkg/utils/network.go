package utils

import (
	"fmt"
	"net"
	"strconv"
)

// FindFreePort returns the first port at or above start that host can bind.
// The probe listener is closed before returning, so the port is only a hint.
func FindFreePort(host string, start, attempts int) (int, error) {
	if start <= 0 || start > 65535 {
		return 0, fmt.Errorf("invalid start port %d", start)
	}
	for port := start; port < start+attempts && port <= 65535; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			continue
		}
		_ = ln.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free port on %s in [%d, %d)", host, start, start+attempts)
}

// IsLoopbackHost reports whether host names or resolves to a loopback address.
func IsLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return false
	}
	for _, ip := range ips {
		if !ip.IsLoopback() {
			return false
		}
	}
	return true
}
