package endpoint

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/geokapp/iris/core/engine"
	iriserr "github.com/geokapp/iris/core/errors"
)

// Server binds one listening socket per usable local address and multiplexes
// incoming peers through a connection engine. Single-threaded: one GetClient
// loop per server; concurrent GetClient calls on the same Server are not
// supported.
type Server struct {
	proto Protocol
	eng   *engine.Engine

	recvTimeout time.Duration
	stopAtNUL   bool
}

func NewServer(proto Protocol) *Server {
	return &Server{proto: proto}
}

func (s *Server) Protocol() Protocol {
	return s.proto
}

// SetProtocol changes the protocol. Only legal before Start.
func (s *Server) SetProtocol(proto Protocol) error {
	if s.eng != nil {
		return fmt.Errorf("set protocol on a started server: %w", iriserr.ErrInvalidArgument)
	}
	s.proto = proto
	return nil
}

func (s *Server) Role() Role {
	return RoleServer
}

// Start resolves the passive address and brings up the listening set. An
// empty host binds the wildcard address of every available family; binding
// succeeds if at least one candidate yields a usable socket. The backlog
// must be positive for TCP.
func (s *Server) Start(ctx context.Context, host, service string, backlog int) error {
	if service == "" {
		return fmt.Errorf("start: service is required: %w", iriserr.ErrInvalidArgument)
	}
	if s.proto == TCP && backlog <= 0 {
		return fmt.Errorf("start: backlog must be positive for TCP: %w", iriserr.ErrInvalidArgument)
	}
	if s.eng != nil {
		return fmt.Errorf("start: server already started: %w", iriserr.ErrInvalidArgument)
	}

	eng := engine.New(s.proto)
	if err := eng.Start(ctx, host, service, backlog); err != nil {
		return err
	}
	s.eng = eng
	return nil
}

// GetClient blocks until a peer is ready and populates the caller's Client.
// For TCP a peer is ready once data has arrived on an accepted connection
// (accepting alone never delivers); for UDP every pending datagram delivers
// a one-shot peer whose payload remains readable via ReceiveData.
func (s *Server) GetClient(ctx context.Context, client *Client) error {
	if client == nil {
		return fmt.Errorf("get client: client must not be nil: %w", iriserr.ErrInvalidArgument)
	}
	if s.eng == nil {
		return fmt.Errorf("get client: server not started: %w", iriserr.ErrInvalidArgument)
	}

	peer, err := s.eng.WaitPeer(ctx)
	if err != nil {
		return err
	}
	client.adopt(peer)
	return nil
}

// Stop tears down the readiness set and closes every listening socket.
// Idempotent: a second Stop never double-closes a descriptor.
func (s *Server) Stop() error {
	if s.eng == nil {
		return nil
	}
	return s.eng.Stop()
}

// Addrs reports the locally bound address of every listening socket. Useful
// when the service was "0" and the OS picked the ports.
func (s *Server) Addrs() []netip.AddrPort {
	if s.eng == nil {
		return nil
	}
	return s.eng.Addrs()
}

// SetReceiveTimeout bounds UDP receives issued through this server. Zero
// (the default) probes for an already-pending datagram and returns
// immediately when there is none.
func (s *Server) SetReceiveTimeout(d time.Duration) {
	s.recvTimeout = d
}

// SetStopAtNUL enables the legacy receive-termination policy for TCP
// receives issued through this server. Off by default.
func (s *Server) SetStopAtNUL(enabled bool) {
	s.stopAtNUL = enabled
}

// SendData sends the buffer to a peer previously delivered by GetClient.
func (s *Server) SendData(buf []byte, client *Client) (int, error) {
	sock, err := s.transferSocket(client)
	if err != nil {
		return 0, err
	}
	if s.proto == UDP {
		var peer *PeerInfo
		if client != nil {
			peer = client.Peer()
		}
		return sendDatagrams(sock.Fd(), buf, unixSockaddr(peer))
	}
	return sendStream(sock.Fd(), buf)
}

// ReceiveData receives into the buffer from a peer previously delivered by
// GetClient. For UDP the client may be nil: the read then goes through the
// server's first listening socket.
func (s *Server) ReceiveData(buf []byte, client *Client) (int, error) {
	sock, err := s.transferSocket(client)
	if err != nil {
		return 0, err
	}
	if s.proto == UDP {
		return receiveDatagram(sock.Fd(), buf, s.recvTimeout)
	}
	return receiveStream(sock.Fd(), buf, s.stopAtNUL)
}

func (s *Server) transferSocket(client *Client) (socketRef, error) {
	if client != nil && client.Socket() != nil {
		return client.Socket(), nil
	}
	if s.proto == TCP {
		return nil, fmt.Errorf("transfer: a delivered client is required for TCP: %w", iriserr.ErrInvalidArgument)
	}
	if s.eng == nil || len(s.eng.Listeners()) == 0 {
		return nil, fmt.Errorf("transfer: server not started: %w", iriserr.ErrInvalidArgument)
	}
	return s.eng.Listeners()[0], nil
}

// socketRef is the slice of the sockets API the transfer path needs.
type socketRef interface {
	Fd() int32
}
