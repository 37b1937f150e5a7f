package resolver

import (
	"fmt"
	"iter"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/sys/unix"
)

// Endpoint is one connectable address candidate. It is immutable.
type Endpoint struct {
	addr      netip.AddrPort
	family    int
	canonName string
}

// FromAddrPort builds an Endpoint for a literal address.
func FromAddrPort(ap netip.AddrPort, canonName string) (Endpoint, error) {
	return newEndpoint(ap, canonName)
}

func newEndpoint(ap netip.AddrPort, canonName string) (Endpoint, error) {
	if !ap.IsValid() {
		return Endpoint{}, fmt.Errorf("invalid address %v", ap)
	}
	addr := ap.Addr()
	if addr.Is4In6() {
		addr = addr.Unmap()
		ap = netip.AddrPortFrom(addr, ap.Port())
	}
	family := unix.AF_INET6
	if addr.Is4() {
		family = unix.AF_INET
	}
	return Endpoint{addr: ap, family: family, canonName: canonName}, nil
}

// Family returns the address family (unix.AF_INET or unix.AF_INET6).
func (e Endpoint) Family() int { return e.family }

// AddrPort returns the IP address and port.
func (e Endpoint) AddrPort() netip.AddrPort { return e.addr }

// CanonicalName returns the canonical host name, if one was resolved.
func (e Endpoint) CanonicalName() string { return e.canonName }

// IsZero reports whether e is the zero Endpoint.
func (e Endpoint) IsZero() bool { return !e.addr.IsValid() }

// Sockaddr converts the endpoint into the form connect(2) expects.
func (e Endpoint) Sockaddr() (unix.Sockaddr, error) {
	addr := e.addr.Addr()
	port := int(e.addr.Port())
	if e.family == unix.AF_INET {
		return &unix.SockaddrInet4{Port: port, Addr: addr.As4()}, nil
	}
	sa := &unix.SockaddrInet6{Port: port, Addr: addr.As16()}
	if zone := addr.Zone(); zone != "" {
		ifi, err := net.InterfaceByName(zone)
		if err != nil {
			return nil, fmt.Errorf("unknown zone %q: %w", zone, err)
		}
		sa.ZoneId = uint32(ifi.Index) //nolint:gosec // G115: interface indexes are small
	}
	return sa, nil
}

func (e Endpoint) String() string {
	if e.canonName != "" {
		return fmt.Sprintf("%s (%s)", e.addr, e.canonName)
	}
	return e.addr.String()
}

// result is the backing storage of a lookup, owned by its Resolver.
type result struct {
	mu        sync.Mutex
	endpoints []Endpoint
	released  bool
}

func (r *result) at(i int) (Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released || i >= len(r.endpoints) {
		return Endpoint{}, false
	}
	return r.endpoints[i], true
}

func (r *result) release() {
	r.mu.Lock()
	r.endpoints = nil
	r.released = true
	r.mu.Unlock()
}

// Sequence is a forward-only cursor over resolved endpoints. Consuming it
// advances it irreversibly; it cannot be restarted.
type Sequence struct {
	res *result
	pos int
}

// NewSequence returns a sequence over the given endpoints, in order.
func NewSequence(endpoints ...Endpoint) *Sequence {
	eps := make([]Endpoint, len(endpoints))
	copy(eps, endpoints)
	return &Sequence{res: &result{endpoints: eps}}
}

// Next returns the next endpoint. The second result is false once the
// sequence is exhausted or its backing result has been released.
func (s *Sequence) Next() (Endpoint, bool) {
	if s == nil || s.res == nil {
		return Endpoint{}, false
	}
	ep, ok := s.res.at(s.pos)
	if !ok {
		return Endpoint{}, false
	}
	s.pos++
	return ep, true
}

// All yields the remaining endpoints. Breaking out of the loop leaves the
// sequence positioned after the last endpoint yielded.
func (s *Sequence) All() iter.Seq[Endpoint] {
	return func(yield func(Endpoint) bool) {
		for {
			ep, ok := s.Next()
			if !ok || !yield(ep) {
				return
			}
		}
	}
}
