//go:build linux

// Package engine implements the server-side connection-multiplexing engine.
//
// The engine owns a set of listening sockets and one readiness set. For TCP
// a managed descriptor moves through Listening -> accepted-pending ->
// delivered: an accept event never satisfies WaitPeer by itself, it only
// arms a future data-ready event on the accepted descriptor. UDP has no
// accept phase: every datagram-ready event on a listening socket yields a
// one-shot peer synthesized from a non-consuming peek.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	iriserr "github.com/geokapp/iris/core/errors"
	"github.com/geokapp/iris/core/poller"
	"github.com/geokapp/iris/core/resolve"
	"github.com/geokapp/iris/core/sockets"
)

// maxEventsPerWait bounds per-iteration latency of the dispatch loop.
const maxEventsPerWait = 1000

// Readiness tags: the kind rides in the high 32 bits, the id in the low 32.
// The id resolves through an owned table (listener slice index or peer
// registration key), never through a pointer.
type tagKind uint32

const (
	tagListener tagKind = iota + 1
	tagPeer
)

func encodeTag(kind tagKind, id uint32) uint64 {
	return uint64(kind)<<32 | uint64(id)
}

func decodeTag(tag uint64) (tagKind, uint32) {
	return tagKind(tag >> 32), uint32(tag)
}

// Peer is a delivered connection. For TCP the socket is owned by the peer;
// for UDP it borrows the server's listening socket and must not be closed
// by the receiver.
type Peer struct {
	SessionID  string
	Proto      resolve.Protocol
	Socket     *sockets.Socket
	OwnsSocket bool
	Remote     unix.Sockaddr
	RemoteAddr netip.AddrPort
}

// registration tracks an accepted TCP connection between accept and
// delivery. Address ownership moves to the delivered Peer exactly once.
type registration struct {
	sessionID  string
	sock       *sockets.Socket
	remote     unix.Sockaddr
	remoteAddr netip.AddrPort
}

type Engine struct {
	proto      resolve.Protocol
	listeners  []*sockets.Socket
	addrs      []netip.AddrPort
	mux        *poller.Poller
	peers      map[uint32]*registration
	nextPeerID uint32
	events     []poller.Event
	peekBuf    [1]byte
	stopped    bool
}

func New(proto resolve.Protocol) *Engine {
	return &Engine{
		proto:  proto,
		peers:  make(map[uint32]*registration),
		events: make([]poller.Event, maxEventsPerWait),
	}
}

// Start resolves the passive address, builds the listening set and registers
// every listener with the readiness set. After a successful Start every
// listening descriptor is registered with exactly one readiness set;
// candidates that fail any step are closed and skipped.
func (e *Engine) Start(ctx context.Context, host, service string, backlog int) error {
	if e.mux != nil {
		return fmt.Errorf("engine already started: %w", iriserr.ErrInvalidArgument)
	}

	candidates, err := resolve.Resolve(ctx, host, service, e.proto, true)
	if err != nil {
		return err
	}

	listeners, err := sockets.Listen(candidates, e.proto, backlog)
	if err != nil {
		return err
	}

	mux, err := poller.Open()
	if err != nil {
		closeAll(listeners)
		return err
	}

	var registered []*sockets.Socket
	for _, l := range listeners {
		if err := mux.Register(l.Fd(), encodeTag(tagListener, uint32(len(registered)))); err != nil {
			slog.WarnContext(ctx, "listener registration failed", "fd", l.Fd(), "error", err)
			l.Close()
			continue
		}
		registered = append(registered, l)
	}
	if len(registered) == 0 {
		mux.Close()
		return fmt.Errorf("no listener could be registered: %w", iriserr.ErrRegistration)
	}

	addrs := make([]netip.AddrPort, 0, len(registered))
	for _, l := range registered {
		ap, err := l.LocalAddrPort()
		if err != nil {
			slog.WarnContext(ctx, "getsockname failed", "fd", l.Fd(), "error", err)
			continue
		}
		addrs = append(addrs, ap)
	}

	e.listeners = registered
	e.addrs = addrs
	e.mux = mux
	return nil
}

// WaitPeer blocks until a peer is deliverable and returns it. Per-event
// failures (one accept, one registration) are logged and skipped; the loop
// keeps serving other events. A wait failure is fatal and the engine must
// not be used afterwards.
func (e *Engine) WaitPeer(ctx context.Context) (*Peer, error) {
	if e.mux == nil {
		return nil, fmt.Errorf("engine not started: %w", iriserr.ErrInvalidArgument)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := e.mux.Wait(e.events)
		if err != nil {
			return nil, err
		}

		for i := 0; i < n; i++ {
			ev := e.events[i]
			if !ev.Readable {
				continue
			}
			kind, id := decodeTag(ev.Tag)
			switch kind {
			case tagListener:
				if int(id) >= len(e.listeners) {
					slog.WarnContext(ctx, "readiness event for unknown listener", "id", id)
					continue
				}
				listener := e.listeners[id]
				if e.proto == resolve.UDP {
					if peer, ok := e.probeDatagram(ctx, listener); ok {
						return peer, nil
					}
					continue
				}
				e.acceptPeer(ctx, listener)
			case tagPeer:
				reg, ok := e.peers[id]
				if !ok {
					slog.WarnContext(ctx, "readiness event for unknown peer", "id", id)
					continue
				}
				if err := e.mux.Deregister(reg.sock.Fd()); err != nil {
					slog.DebugContext(ctx, "peer deregistration failed", "fd", reg.sock.Fd(), "error", err)
				}
				delete(e.peers, id)
				return &Peer{
					SessionID:  reg.sessionID,
					Proto:      resolve.TCP,
					Socket:     reg.sock,
					OwnsSocket: true,
					Remote:     reg.remote,
					RemoteAddr: reg.remoteAddr,
				}, nil
			default:
				slog.WarnContext(ctx, "readiness event with unknown tag kind", "tag", ev.Tag)
			}
		}
	}
}

// acceptPeer accepts one pending connection and arms it for a future
// data-ready event. It never delivers: delivery happens when the accepted
// descriptor becomes readable.
func (e *Engine) acceptPeer(ctx context.Context, listener *sockets.Socket) {
	sock, sa, err := listener.Accept()
	if err != nil {
		slog.WarnContext(ctx, "accept failed", "fd", listener.Fd(), "error", err)
		return
	}

	remoteAddr, _ := sockets.SockaddrToAddrPort(sa)
	id := e.nextPeerID
	e.nextPeerID++

	if err := e.mux.Register(sock.Fd(), encodeTag(tagPeer, id)); err != nil {
		slog.WarnContext(ctx, "peer registration failed", "fd", sock.Fd(), "error", err)
		sock.Close()
		return
	}

	e.peers[id] = &registration{
		sessionID:  uuid.NewString(),
		sock:       sock,
		remote:     sa,
		remoteAddr: remoteAddr,
	}
	slog.DebugContext(ctx, "accepted connection", "fd", sock.Fd(), "remote", remoteAddr)
}

// probeDatagram peeks at the pending datagram to capture its source address
// without consuming it: the payload stays fully readable on the normal
// receive path.
func (e *Engine) probeDatagram(ctx context.Context, listener *sockets.Socket) (*Peer, bool) {
	_, sa, err := unix.Recvfrom(int(listener.Fd()), e.peekBuf[:], unix.MSG_PEEK)
	if err != nil {
		slog.WarnContext(ctx, "datagram peek failed", "fd", listener.Fd(), "error", err)
		return nil, false
	}
	remoteAddr, _ := sockets.SockaddrToAddrPort(sa)
	return &Peer{
		SessionID:  uuid.NewString(),
		Proto:      resolve.UDP,
		Socket:     listener,
		OwnsSocket: false,
		Remote:     sa,
		RemoteAddr: remoteAddr,
	}, true
}

// Addrs reports the locally bound address of every listening socket.
func (e *Engine) Addrs() []netip.AddrPort {
	return e.addrs
}

// Listeners exposes the listening set. The engine keeps ownership.
func (e *Engine) Listeners() []*sockets.Socket {
	return e.listeners
}

// Stop tears down the readiness set, closes undelivered peer registrations
// and closes every listening socket. Idempotent: a second Stop is a no-op.
func (e *Engine) Stop() error {
	if e.stopped {
		return nil
	}
	e.stopped = true

	var firstErr error
	if e.mux != nil {
		if err := e.mux.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, reg := range e.peers {
		if err := reg.sock.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.peers = make(map[uint32]*registration)
	for _, l := range e.listeners {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func closeAll(socks []*sockets.Socket) {
	for _, s := range socks {
		s.Close()
	}
}
