package endpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/geokapp/iris/core/engine"
	iriserr "github.com/geokapp/iris/core/errors"
	"github.com/geokapp/iris/core/resolve"
	"github.com/geokapp/iris/core/sockets"
)

// Client is a peer handle. It is created either by the user (NewClient then
// Attach) or by a Server (GetClient populates a caller-supplied Client).
// A Client owns its descriptor unless it was synthesized for a UDP peer, in
// which case it borrows the server's listening socket and Detach leaves the
// descriptor open.
type Client struct {
	proto      Protocol
	sock       *sockets.Socket
	ownsSocket bool
	peer       *PeerInfo
	sessionID  string

	recvTimeout time.Duration
	stopAtNUL   bool
}

func NewClient(proto Protocol) *Client {
	return &Client{proto: proto}
}

func (c *Client) Protocol() Protocol {
	return c.proto
}

// SetProtocol changes the protocol. Only legal before the client holds a
// descriptor: the protocol is immutable for the lifetime of a connection.
func (c *Client) SetProtocol(proto Protocol) error {
	if c.sock != nil {
		return fmt.Errorf("set protocol on an attached client: %w", iriserr.ErrInvalidArgument)
	}
	c.proto = proto
	return nil
}

func (c *Client) Role() Role {
	return RoleClient
}

// SessionID identifies this connection. Empty until attached or delivered.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Attach resolves host and service and connects to the first usable
// candidate. Descriptors created for candidates that then fail to connect
// are closed before the next candidate is tried.
func (c *Client) Attach(ctx context.Context, host, service string) error {
	if host == "" || service == "" {
		return fmt.Errorf("attach: host and service are required: %w", iriserr.ErrInvalidArgument)
	}
	if c.sock != nil {
		return fmt.Errorf("attach: client already attached: %w", iriserr.ErrInvalidArgument)
	}

	candidates, err := resolve.Resolve(ctx, host, service, c.proto, false)
	if err != nil {
		return err
	}

	sock, sa, err := sockets.Connect(candidates, c.proto)
	if err != nil {
		return err
	}

	addr, _ := sockets.SockaddrToAddrPort(sa)
	c.sock = sock
	c.ownsSocket = true
	c.peer = &PeerInfo{Addr: addr, Sockaddr: sa}
	c.sessionID = uuid.NewString()
	return nil
}

// Detach releases the connection. Owned descriptors are closed exactly once;
// borrowed descriptors (UDP peers delivered by a server) are left open.
// Idempotent.
func (c *Client) Detach() error {
	sock := c.sock
	owns := c.ownsSocket
	c.sock = nil
	c.ownsSocket = false
	c.peer = nil
	if sock == nil || !owns {
		return nil
	}
	return sock.Close()
}

// Socket returns the client's descriptor, or nil when detached.
func (c *Client) Socket() *sockets.Socket {
	return c.sock
}

// SetSocket installs a descriptor the client will own. Any previously owned
// descriptor is closed first.
func (c *Client) SetSocket(sock *sockets.Socket) {
	if c.sock != nil && c.ownsSocket {
		c.sock.Close()
	}
	c.sock = sock
	c.ownsSocket = sock != nil
}

// Peer returns the remote address information, or nil when unknown.
func (c *Client) Peer() *PeerInfo {
	return c.peer
}

// SetPeer replaces the remote address information.
func (c *Client) SetPeer(info *PeerInfo) {
	c.peer = info
}

// SetReceiveTimeout bounds UDP receives. Zero (the default) probes for an
// already-pending datagram and returns immediately when there is none.
func (c *Client) SetReceiveTimeout(d time.Duration) {
	c.recvTimeout = d
}

// SetStopAtNUL enables the legacy receive-termination policy: a TCP receive
// also stops after a read containing a NUL byte. Off by default.
func (c *Client) SetStopAtNUL(enabled bool) {
	c.stopAtNUL = enabled
}

// SendData sends the buffer to the attached peer. TCP sends the whole
// buffer, retrying partial writes; UDP fragments at UDPPacketSize.
func (c *Client) SendData(buf []byte) (int, error) {
	if c.sock == nil {
		return 0, fmt.Errorf("send on a detached client: %w", iriserr.ErrInvalidArgument)
	}
	if c.proto == UDP {
		return sendDatagrams(c.sock.Fd(), buf, unixSockaddr(c.peer))
	}
	return sendStream(c.sock.Fd(), buf)
}

// ReceiveData receives into the buffer from the attached peer. TCP reads
// until the buffer is full or the peer closes (see SetStopAtNUL); UDP
// performs one timed receive, returning zero bytes on timeout.
func (c *Client) ReceiveData(buf []byte) (int, error) {
	if c.sock == nil {
		return 0, fmt.Errorf("receive on a detached client: %w", iriserr.ErrInvalidArgument)
	}
	if c.proto == UDP {
		return receiveDatagram(c.sock.Fd(), buf, c.recvTimeout)
	}
	return receiveStream(c.sock.Fd(), buf, c.stopAtNUL)
}

// adopt takes ownership of a peer delivered by the connection engine. The
// engine has already dropped its registration: address information moves
// here exactly once.
func (c *Client) adopt(peer *engine.Peer) {
	if c.sock != nil && c.ownsSocket {
		c.sock.Close()
	}
	c.proto = peer.Proto
	c.sock = peer.Socket
	c.ownsSocket = peer.OwnsSocket
	c.peer = &PeerInfo{Addr: peer.RemoteAddr, Sockaddr: peer.Remote}
	c.sessionID = peer.SessionID
}
