//go:build linux

// Package resolve turns (host, service) pairs into candidate socket
// addresses. Candidates are an owned slice: callers filter by building a
// new slice of survivors, never by in-place deletion.
package resolve

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"golang.org/x/sys/unix"

	iriserr "github.com/geokapp/iris/core/errors"
)

// Protocol selects the transport for an endpoint.
type Protocol int

const (
	TCP Protocol = iota
	UDP
)

func (p Protocol) String() string {
	switch p {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// SockType returns the socket type used for sockets of this protocol.
func (p Protocol) SockType() int {
	if p == UDP {
		return unix.SOCK_DGRAM
	}
	return unix.SOCK_STREAM
}

// ProtoNumber returns the IP protocol number for this protocol.
func (p Protocol) ProtoNumber() int {
	if p == UDP {
		return unix.IPPROTO_UDP
	}
	return unix.IPPROTO_TCP
}

// Candidate is one resolved address, ready to be handed to socket(2) and
// bind(2)/connect(2).
type Candidate struct {
	Family   int
	SockType int
	Proto    int
	Sockaddr unix.Sockaddr
	AddrPort netip.AddrPort
}

// Resolve resolves host and service into candidate addresses for proto.
// An empty host with passive=true requests the wildcard bind addresses for
// both address families (IPv6 first). An empty host with passive=false is
// an error: a client must name its peer.
func Resolve(ctx context.Context, host, service string, proto Protocol, passive bool) ([]Candidate, error) {
	if service == "" {
		return nil, fmt.Errorf("resolve: empty service: %w", iriserr.ErrInvalidArgument)
	}

	port, err := lookupPort(proto, service)
	if err != nil {
		return nil, fmt.Errorf("resolve: service %q: %w: %v", service, iriserr.ErrResolution, err)
	}

	if host == "" {
		if !passive {
			return nil, fmt.Errorf("resolve: empty host on an active endpoint: %w", iriserr.ErrInvalidArgument)
		}
		return []Candidate{
			newCandidate(netip.AddrPortFrom(netip.IPv6Unspecified(), port), proto),
			newCandidate(netip.AddrPortFrom(netip.IPv4Unspecified(), port), proto),
		}, nil
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("resolve: host %q: %w: %v", host, iriserr.ErrResolution, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve: host %q: no addresses: %w", host, iriserr.ErrResolution)
	}

	candidates := make([]Candidate, 0, len(addrs))
	for _, addr := range addrs {
		candidates = append(candidates, newCandidate(netip.AddrPortFrom(addr.Unmap(), port), proto))
	}
	return candidates, nil
}

func lookupPort(proto Protocol, service string) (uint16, error) {
	if n, err := strconv.ParseUint(service, 10, 16); err == nil {
		return uint16(n), nil
	}
	port, err := net.LookupPort(proto.String(), service)
	if err != nil {
		return 0, err
	}
	return uint16(port), nil
}

func newCandidate(ap netip.AddrPort, proto Protocol) Candidate {
	c := Candidate{
		SockType: proto.SockType(),
		Proto:    proto.ProtoNumber(),
		AddrPort: ap,
	}
	if ap.Addr().Is4() {
		c.Family = unix.AF_INET
		sa := &unix.SockaddrInet4{Port: int(ap.Port())}
		sa.Addr = ap.Addr().As4()
		c.Sockaddr = sa
	} else {
		c.Family = unix.AF_INET6
		sa := &unix.SockaddrInet6{Port: int(ap.Port())}
		sa.Addr = ap.Addr().As16()
		c.Sockaddr = sa
	}
	return c
}
