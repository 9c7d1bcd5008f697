// Package discovery advertises the rendezvous service on the local network
// and finds it from the peers, so neither has to be configured with an
// address.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
)

const (
	// Service is the DNS-SD service type of the rendezvous server.
	Service = "_vremote._tcp"
	Domain  = "local."
)

// ErrNotFound is returned when no rendezvous service answered in time.
var ErrNotFound = errors.New("no rendezvous service found")

// Advertiser keeps an mDNS registration alive until Shutdown.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers instance on port. The TXT record carries the path
// layout so peers can build the proxy URL.
func Advertise(instance string, port int) (*Advertiser, error) {
	txt := []string{"path=/", "version=1"}
	server, err := zeroconf.Register(instance, Service, Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mdns service: %w", err)
	}
	log.Info().Str("instance", instance).Int("port", port).Msg("advertising rendezvous service")
	return &Advertiser{server: server}, nil
}

// Shutdown withdraws the registration.
func (a *Advertiser) Shutdown() {
	a.server.Shutdown()
}

// Browse returns the proxy URL of the first rendezvous service found before
// ctx is done.
func Browse(ctx context.Context) (string, error) {
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return "", fmt.Errorf("create mdns resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 4)
	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return "", fmt.Errorf("browse mdns: %w", err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", ErrNotFound
			}
			if u, ok := ProxyURL(entry.AddrIPv4, entry.AddrIPv6, entry.Port, entry.Text); ok {
				log.Info().Str("instance", entry.Instance).Str("proxy_url", u).Msg("found rendezvous service")
				return u, nil
			}
		case <-ctx.Done():
			return "", ErrNotFound
		}
	}
}

// ProxyURL builds the rendezvous base URL from a resolved entry, preferring
// IPv4.
func ProxyURL(v4, v6 []net.IP, port int, txt []string) (string, bool) {
	var host string
	switch {
	case len(v4) > 0:
		host = v4[0].String()
	case len(v6) > 0:
		host = "[" + v6[0].String() + "]"
	default:
		return "", false
	}

	path := ""
	for _, kv := range txt {
		if p, ok := strings.CutPrefix(kv, "path="); ok {
			path = strings.TrimRight(p, "/")
		}
	}
	return "http://" + host + ":" + strconv.Itoa(port) + path, true
}
