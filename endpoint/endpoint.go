// Package endpoint exposes the public Client and Server types: unified
// endpoint abstractions over TCP and UDP. A Client initiates (Attach) or is
// produced by a Server (GetClient); a Server binds, listens and multiplexes
// incoming peers through the connection engine.
package endpoint

import (
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/geokapp/iris/core/resolve"
)

// Protocol selects the transport of an endpoint.
type Protocol = resolve.Protocol

const (
	TCP = resolve.TCP
	UDP = resolve.UDP
)

// Role distinguishes the two endpoint kinds.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Endpoint is the capability shared by both roles.
type Endpoint interface {
	Protocol() Protocol
	Role() Role
}

// PeerInfo describes the remote side of a connection. The raw sockaddr is
// kept for datagram sends.
type PeerInfo struct {
	Addr     netip.AddrPort
	Sockaddr unix.Sockaddr
}

func unixSockaddr(p *PeerInfo) unix.Sockaddr {
	if p == nil {
		return nil
	}
	return p.Sockaddr
}
