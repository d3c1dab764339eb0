// Package netutil resolves the host address reported in logs and health
// output.
package netutil

import (
	"errors"
	"net"
	"sync"
)

// FallbackIP is reported when no usable interface address is found.
const FallbackIP = "127.0.0.1"

var (
	localOnce   sync.Once
	localIP     string
	localErr    error
	interfaceFn = systemAddrs
)

// LocalIP returns the first site-local IPv4 address of an up, non-loopback
// interface. The lookup runs once per process; on failure FallbackIP is
// returned for the lifetime of the process.
func LocalIP() string {
	localOnce.Do(func() {
		localIP, localErr = detect(interfaceFn)
		if localErr != nil {
			localIP = FallbackIP
		}
	})
	return localIP
}

// LocalIPErr reports why LocalIP fell back, or nil when detection succeeded.
func LocalIPErr() error {
	LocalIP()
	return localErr
}

type ifaceAddrs struct {
	flags net.Flags
	addrs []net.Addr
}

func systemAddrs() ([]ifaceAddrs, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]ifaceAddrs, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		out = append(out, ifaceAddrs{flags: iface.Flags, addrs: addrs})
	}
	return out, nil
}

var errNoSiteLocal = errors.New("netutil: no site-local ipv4 address found")

func detect(list func() ([]ifaceAddrs, error)) (string, error) {
	ifaces, err := list()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if iface.flags&net.FlagUp == 0 || iface.flags&net.FlagLoopback != 0 {
			continue
		}
		for _, addr := range iface.addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip4 := ip.To4(); ip4 != nil && ip4.IsPrivate() {
				return ip4.String(), nil
			}
		}
	}
	return "", errNoSiteLocal
}
