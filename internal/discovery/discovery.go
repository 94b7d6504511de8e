// Package discovery advertises a canvas server on the local network over
// mDNS and lets clients find one without configuration.
package discovery

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	ServiceType = "_collabcanvas._tcp"
	Domain      = "local."

	// DefaultBrowseTimeout bounds a Browse call when the caller passes zero.
	DefaultBrowseTimeout = 3 * time.Second

	instancePrefix = "CollabCanvas"
	pathKey        = "path="
	versionKey     = "version="
)

// Endpoint is a discovered server.
type Endpoint struct {
	Instance string
	Version  string
	URL      string
}

// InstanceName derives the advertised instance name from a host name.
func InstanceName(host string) string {
	if host == "" {
		return instancePrefix
	}
	return fmt.Sprintf("%s-%s", instancePrefix, host)
}

// Advertise registers the server under ServiceType until the returned
// server is shut down. path is the websocket route clients should dial.
func Advertise(instance string, port int, path, version string) (*zeroconf.Server, error) {
	txt := []string{pathKey + path, versionKey + version}
	server, err := zeroconf.Register(instance, ServiceType, Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: register %s: %w", instance, err)
	}
	return server, nil
}

// Browse collects servers announcing ServiceType until timeout elapses or ctx
// is done. Results are sorted by instance name.
func Browse(ctx context.Context, timeout time.Duration) ([]Endpoint, error) {
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("discovery: browse: %w", err)
	}

	found := make(map[string]Endpoint)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return sortEndpoints(found), nil
			}
			if ep, ok := endpointFromEntry(entry); ok {
				found[ep.URL] = ep
			}
		case <-ctx.Done():
			return sortEndpoints(found), nil
		}
	}
}

func endpointFromEntry(e *zeroconf.ServiceEntry) (Endpoint, bool) {
	if e == nil || e.Port <= 0 {
		return Endpoint{}, false
	}

	var host string
	switch {
	case len(e.AddrIPv4) > 0:
		host = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		host = e.AddrIPv6[0].String()
	case e.HostName != "":
		host = strings.TrimSuffix(e.HostName, ".")
	default:
		return Endpoint{}, false
	}

	ep := Endpoint{Instance: e.Instance}
	path := "/ws"
	for _, kv := range e.Text {
		switch {
		case strings.HasPrefix(kv, pathKey):
			if p := strings.TrimPrefix(kv, pathKey); strings.HasPrefix(p, "/") {
				path = p
			}
		case strings.HasPrefix(kv, versionKey):
			ep.Version = strings.TrimPrefix(kv, versionKey)
		}
	}

	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(host, strconv.Itoa(e.Port)),
		Path:   path,
	}
	ep.URL = u.String()
	return ep, true
}

func sortEndpoints(found map[string]Endpoint) []Endpoint {
	out := make([]Endpoint, 0, len(found))
	for _, ep := range found {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Instance != out[j].Instance {
			return out[i].Instance < out[j].Instance
		}
		return out[i].URL < out[j].URL
	})
	return out
}
