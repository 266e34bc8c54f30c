// Package mdns discovers IIOD instances advertised over DNS-SD. PlutoSDR
// firmware and iiod on stock Linux both announce _iio._tcp.
package mdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	serviceType   = "_iio._tcp"
	serviceDomain = "local."
)

// ErrNoHosts reports that the browse window closed without a responder.
var ErrNoHosts = errors.New("no IIOD hosts discovered")

// Host is one discovered IIOD responder.
type Host struct {
	Instance  string // advertised name, e.g. "iiod on pluto"
	Hostname  string // DNS hostname, e.g. "pluto.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Addr renders a dialable host:port, preferring an IPv4 address and falling
// back to the advertised hostname.
func (h Host) Addr() string {
	for _, ip := range h.Addresses {
		if v4 := ip.To4(); v4 != nil {
			return fmt.Sprintf("%s:%d", v4, h.Port)
		}
	}
	if len(h.Addresses) > 0 {
		return fmt.Sprintf("[%s]:%d", h.Addresses[0], h.Port)
	}
	return fmt.Sprintf("%s:%d", strings.TrimSuffix(h.Hostname, "."), h.Port)
}

// Discover browses for IIOD services until the timeout or the context
// expires. Results are deduplicated by hostname and port and returned in a
// stable order.
func Discover(ctx context.Context, timeout time.Duration) ([]Host, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(map[string]Host)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
				addrs = append(addrs, e.AddrIPv4...)
				addrs = append(addrs, e.AddrIPv6...)
				key := fmt.Sprintf("%s|%d", e.HostName, e.Port)
				found[key] = Host{
					Instance:  cleanInstance(e.Instance),
					Hostname:  e.HostName,
					Addresses: addrs,
					Port:      e.Port,
					TXT:       append([]string{}, e.Text...),
				}
			case <-browseCtx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(browseCtx, serviceType, serviceDomain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}
	<-done

	out := make([]Host, 0, len(found))
	for _, h := range found {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hostname != out[j].Hostname {
			return out[i].Hostname < out[j].Hostname
		}
		return out[i].Port < out[j].Port
	})
	return out, nil
}

// First returns the first discovered host. This is the open-by-enumeration
// path for a single attached device.
func First(ctx context.Context, timeout time.Duration) (Host, error) {
	hosts, err := Discover(ctx, timeout)
	if err != nil {
		return Host{}, err
	}
	if len(hosts) == 0 {
		return Host{}, ErrNoHosts
	}
	return hosts[0], nil
}

// cleanInstance removes zeroconf escape sequences from advertised names.
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
