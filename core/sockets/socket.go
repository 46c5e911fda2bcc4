//go:build linux

// Package sockets owns raw socket descriptors: creation, the candidate-walk
// constructors for listening and connected sockets, and address conversion.
package sockets

import (
	"fmt"
	"log/slog"
	"net/netip"

	"golang.org/x/sys/unix"

	iriserr "github.com/geokapp/iris/core/errors"
	"github.com/geokapp/iris/core/resolve"
)

const unusedFd = -1

// Socket is an owned OS descriptor. Close is idempotent: the descriptor is
// closed exactly once and the fd field is poisoned afterwards.
type Socket struct {
	fd int32
}

func newSocket(family, socktype, proto int) (*Socket, error) {
	fd, err := unix.Socket(family, socktype|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return nil, err
	}
	return &Socket{fd: int32(fd)}, nil
}

// FromFd wraps an existing descriptor.
func FromFd(fd int32) *Socket {
	return &Socket{fd: fd}
}

func (s *Socket) Fd() int32 {
	return s.fd
}

func (s *Socket) Close() error {
	if s.fd == unusedFd {
		return nil
	}
	fd := s.fd
	s.fd = unusedFd
	if err := unix.Close(int(fd)); err != nil {
		return fmt.Errorf("close fd %d: %w: %v", fd, iriserr.ErrIO, err)
	}
	return nil
}

// Accept accepts one pending connection on a listening stream socket and
// returns the connected socket together with the peer address.
func (s *Socket) Accept() (*Socket, unix.Sockaddr, error) {
	nfd, sa, err := unix.Accept4(int(s.fd), unix.SOCK_CLOEXEC)
	if err != nil {
		return nil, nil, err
	}
	return &Socket{fd: int32(nfd)}, sa, nil
}

// LocalAddrPort reports the locally bound address of the socket.
func (s *Socket) LocalAddrPort() (netip.AddrPort, error) {
	sa, err := unix.Getsockname(int(s.fd))
	if err != nil {
		return netip.AddrPort{}, err
	}
	ap, ok := SockaddrToAddrPort(sa)
	if !ok {
		return netip.AddrPort{}, unix.EAFNOSUPPORT
	}
	return ap, nil
}

// Listen walks the candidates in resolver order and returns every socket
// that could be created, bound and (for TCP) put into the listening state.
// A candidate that fails any step is closed and skipped: on multi-homed or
// dual-stack hosts one family is routinely unavailable. Only exhaustion of
// all candidates is an error.
func Listen(candidates []resolve.Candidate, proto resolve.Protocol, backlog int) ([]*Socket, error) {
	var listeners []*Socket
	for _, cand := range candidates {
		s, err := newSocket(cand.Family, cand.SockType, cand.Proto)
		if err != nil {
			slog.Debug("skipping candidate, socket failed", "addr", cand.AddrPort, "error", err)
			continue
		}
		if proto == resolve.TCP {
			if err := unix.SetsockoptInt(int(s.fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
				slog.Debug("skipping candidate, setsockopt failed", "addr", cand.AddrPort, "error", err)
				s.Close()
				continue
			}
		}
		if cand.Family == unix.AF_INET6 {
			// Keep the families independent so the IPv4 wildcard can bind
			// alongside the IPv6 one.
			if err := unix.SetsockoptInt(int(s.fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
				slog.Debug("skipping candidate, v6only failed", "addr", cand.AddrPort, "error", err)
				s.Close()
				continue
			}
		}
		if err := unix.Bind(int(s.fd), cand.Sockaddr); err != nil {
			slog.Debug("skipping candidate, bind failed", "addr", cand.AddrPort, "error", err)
			s.Close()
			continue
		}
		if proto == resolve.TCP {
			if err := unix.Listen(int(s.fd), backlog); err != nil {
				slog.Debug("skipping candidate, listen failed", "addr", cand.AddrPort, "error", err)
				s.Close()
				continue
			}
		}
		listeners = append(listeners, s)
	}
	if len(listeners) == 0 {
		return nil, fmt.Errorf("listen: %d candidates: %w", len(candidates), iriserr.ErrBind)
	}
	return listeners, nil
}

// Connect walks the candidates in resolver order and returns the first
// socket that could be created and, for TCP, connected. Candidates that
// fail are closed before moving on, so no descriptor outlives its attempt.
// For UDP no connect is performed; the peer sockaddr is returned for later
// sendto calls.
func Connect(candidates []resolve.Candidate, proto resolve.Protocol) (*Socket, unix.Sockaddr, error) {
	for _, cand := range candidates {
		s, err := newSocket(cand.Family, cand.SockType, cand.Proto)
		if err != nil {
			slog.Debug("skipping candidate, socket failed", "addr", cand.AddrPort, "error", err)
			continue
		}
		if proto == resolve.TCP {
			if err := unix.Connect(int(s.fd), cand.Sockaddr); err != nil {
				slog.Debug("skipping candidate, connect failed", "addr", cand.AddrPort, "error", err)
				s.Close()
				continue
			}
		}
		return s, cand.Sockaddr, nil
	}
	return nil, nil, fmt.Errorf("connect: %d candidates: %w", len(candidates), iriserr.ErrConnect)
}

// SockaddrToAddrPort converts a unix.Sockaddr into a netip.AddrPort. The
// second result is false for non-IP address families.
func SockaddrToAddrPort(sa unix.Sockaddr) (netip.AddrPort, bool) {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(addr.Addr), uint16(addr.Port)), true
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(addr.Addr).Unmap(), uint16(addr.Port)), true
	default:
		return netip.AddrPort{}, false
	}
}
