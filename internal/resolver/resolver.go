// Package resolver turns a host name and a service name into an ordered
// sequence of connectable TCP endpoints.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
)

// ResolutionError reports a failed host or service lookup.
type ResolutionError struct {
	Host    string
	Service string
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve hostname %q (service %q): %v", e.Host, e.Service, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Lookup is the name service consulted by a Resolver.
// *net.Resolver satisfies it.
type Lookup interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
	LookupPort(ctx context.Context, network, service string) (int, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLookup replaces the default system name service.
func WithLookup(l Lookup) Option {
	return func(r *Resolver) {
		r.lookup = l
	}
}

// WithCanonicalName enables the canonical name lookup for resolved hosts.
// The name is attached to the first endpoint of each sequence, and a failed
// lookup is not an error.
func WithCanonicalName(enabled bool) Option {
	return func(r *Resolver) {
		r.canonName = enabled
	}
}

// Resolver owns every lookup result it hands out. Sequences derived from it
// stay valid until Close is called.
type Resolver struct {
	lookup    Lookup
	canonName bool

	mu      sync.Mutex
	results []*result
	closed  bool
}

// New creates a Resolver backed by net.DefaultResolver unless overridden.
func New(opts ...Option) *Resolver {
	r := &Resolver{lookup: net.DefaultResolver}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve looks up host and service and returns the endpoints in the order
// the name service prefers them.
func (r *Resolver) Resolve(ctx context.Context, host, service string) (*Sequence, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, &ResolutionError{Host: host, Service: service, Err: errors.New("resolver is closed")}
	}

	port, err := r.lookup.LookupPort(ctx, "tcp", service)
	if err != nil {
		return nil, &ResolutionError{Host: host, Service: service, Err: err}
	}
	if port < 0 || port > 65535 {
		return nil, &ResolutionError{Host: host, Service: service, Err: fmt.Errorf("port %d out of range", port)}
	}

	addrs, err := r.lookup.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, &ResolutionError{Host: host, Service: service, Err: err}
	}

	canon := ""
	if r.canonName {
		canon = r.canonicalName(ctx, host)
	}

	endpoints := make([]Endpoint, 0, len(addrs))
	for i, addr := range addrs {
		name := ""
		if i == 0 {
			name = canon
		}
		ep, err := newEndpoint(netip.AddrPortFrom(addr, uint16(port)), name)
		if err != nil {
			return nil, &ResolutionError{Host: host, Service: service, Err: err}
		}
		endpoints = append(endpoints, ep)
	}

	res := &result{endpoints: endpoints}
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()

	return &Sequence{res: res}, nil
}

func (r *Resolver) canonicalName(ctx context.Context, host string) string {
	if _, err := netip.ParseAddr(host); err == nil {
		return host
	}
	cname, err := r.lookup.LookupCNAME(ctx, host)
	if err != nil || cname == "" {
		return host
	}
	return cname
}

// Close releases every result handed out by the resolver. Sequences that
// are still being consumed report no further endpoints.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, res := range r.results {
		res.release()
	}
	r.results = nil
	r.closed = true
	return nil
}
