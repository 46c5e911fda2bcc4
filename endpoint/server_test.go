//go:build linux

package endpoint

import (
	"bytes"
	"context"
	"math/rand"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iriserr "github.com/geokapp/iris/core/errors"
)

func startServer(t *testing.T, proto Protocol) (*Server, string) {
	t.Helper()
	s := NewServer(proto)
	require.NoError(t, s.Start(context.Background(), "127.0.0.1", "0", 10))
	t.Cleanup(func() { s.Stop() })

	addrs := s.Addrs()
	require.NotEmpty(t, addrs)
	return s, strconv.Itoa(int(addrs[0].Port()))
}

func TestStartValidation(t *testing.T) {
	ctx := context.Background()

	s := NewServer(TCP)
	require.ErrorIs(t, s.Start(ctx, "", "", 10), iriserr.ErrInvalidArgument)
	require.ErrorIs(t, s.Start(ctx, "", "0", 0), iriserr.ErrInvalidArgument)

	require.ErrorIs(t, s.GetClient(ctx, nil), iriserr.ErrInvalidArgument)
	require.ErrorIs(t, s.GetClient(ctx, NewClient(TCP)), iriserr.ErrInvalidArgument)
}

func TestStartTwice(t *testing.T) {
	s, _ := startServer(t, TCP)
	err := s.Start(context.Background(), "127.0.0.1", "0", 10)
	require.ErrorIs(t, err, iriserr.ErrInvalidArgument)
}

func TestStopIdempotent(t *testing.T) {
	s := NewServer(TCP)
	require.NoError(t, s.Stop(), "stop before start is a no-op")

	require.NoError(t, s.Start(context.Background(), "127.0.0.1", "0", 10))
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestSetProtocolAfterStart(t *testing.T) {
	s, _ := startServer(t, TCP)
	require.ErrorIs(t, s.SetProtocol(UDP), iriserr.ErrInvalidArgument)
	assert.Equal(t, RoleServer, s.Role())
	assert.Equal(t, TCP, s.Protocol())
}

func TestTCPRoundTrip(t *testing.T) {
	ctx := context.Background()
	server, service := startServer(t, TCP)

	attached := NewClient(TCP)
	require.NoError(t, attached.Attach(ctx, "127.0.0.1", service))
	defer attached.Detach()

	n, err := attached.SendData([]byte("ping"))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	delivered := NewClient(TCP)
	require.NoError(t, server.GetClient(ctx, delivered))
	defer delivered.Detach()
	assert.NotEmpty(t, delivered.SessionID())
	require.NotNil(t, delivered.Peer())

	buf := make([]byte, 4)
	n, err = server.ReceiveData(buf, delivered)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	assert.Equal(t, "ping", string(buf))

	n, err = server.SendData([]byte("pong"), delivered)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	reply := make([]byte, 4)
	n, err = attached.ReceiveData(reply)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	assert.Equal(t, "pong", string(reply))
}

func TestTCPSingleByteRoundTrip(t *testing.T) {
	ctx := context.Background()
	server, service := startServer(t, TCP)

	attached := NewClient(TCP)
	require.NoError(t, attached.Attach(ctx, "127.0.0.1", service))
	defer attached.Detach()

	_, err := attached.SendData([]byte{0x7f})
	require.NoError(t, err)

	delivered := NewClient(TCP)
	require.NoError(t, server.GetClient(ctx, delivered))
	defer delivered.Detach()

	buf := make([]byte, 1)
	n, err := server.ReceiveData(buf, delivered)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, byte(0x7f), buf[0])
}

func TestTCPReceiveStopsAtPeerClose(t *testing.T) {
	ctx := context.Background()
	server, service := startServer(t, TCP)

	attached := NewClient(TCP)
	require.NoError(t, attached.Attach(ctx, "127.0.0.1", service))

	_, err := attached.SendData([]byte("bye"))
	require.NoError(t, err)

	delivered := NewClient(TCP)
	require.NoError(t, server.GetClient(ctx, delivered))
	defer delivered.Detach()

	require.NoError(t, attached.Detach())

	// Buffer is larger than the payload; the receive ends at peer close.
	buf := make([]byte, 64)
	n, err := server.ReceiveData(buf, delivered)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	assert.Equal(t, "bye", string(buf[:n]))
}

func TestTCPStopAtNULPolicy(t *testing.T) {
	ctx := context.Background()
	server, service := startServer(t, TCP)
	server.SetStopAtNUL(true)

	attached := NewClient(TCP)
	require.NoError(t, attached.Attach(ctx, "127.0.0.1", service))
	defer attached.Detach()

	_, err := attached.SendData([]byte("hi\x00"))
	require.NoError(t, err)

	delivered := NewClient(TCP)
	require.NoError(t, server.GetClient(ctx, delivered))
	defer delivered.Detach()

	// With the legacy policy the receive returns at the NUL byte without
	// waiting for the buffer to fill or the peer to close.
	buf := make([]byte, 64)
	n, err := server.ReceiveData(buf, delivered)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	assert.Equal(t, "hi\x00", string(buf[:n]))
}

func TestUDPRoundTripSingleDatagram(t *testing.T) {
	ctx := context.Background()
	server, service := startServer(t, UDP)
	server.SetReceiveTimeout(2 * time.Second)

	attached := NewClient(UDP)
	require.NoError(t, attached.Attach(ctx, "127.0.0.1", service))
	defer attached.Detach()
	attached.SetReceiveTimeout(2 * time.Second)

	n, err := attached.SendData([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	delivered := NewClient(UDP)
	require.NoError(t, server.GetClient(ctx, delivered))
	defer delivered.Detach()
	require.NotNil(t, delivered.Peer())

	// The discovery peek must not have consumed the datagram.
	buf := make([]byte, 64)
	n, err = server.ReceiveData(buf, delivered)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf[:n]))

	// Reply through the listening socket to the captured peer address.
	n, err = server.SendData([]byte("world"), delivered)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	n, err = attached.ReceiveData(buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))
}

func TestUDPMultiChunkReassembly(t *testing.T) {
	ctx := context.Background()
	server, service := startServer(t, UDP)
	server.SetReceiveTimeout(2 * time.Second)

	attached := NewClient(UDP)
	require.NoError(t, attached.Attach(ctx, "127.0.0.1", service))
	defer attached.Detach()

	payload := make([]byte, 2*UDPPacketSize+200)
	rng := rand.New(rand.NewSource(1))
	rng.Read(payload)

	n, err := attached.SendData(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	delivered := NewClient(UDP)
	require.NoError(t, server.GetClient(ctx, delivered))
	defer delivered.Detach()

	// Loopback preserves datagram order; reassemble the three chunks.
	var got bytes.Buffer
	chunk := make([]byte, UDPPacketSize)
	for got.Len() < len(payload) {
		n, err := server.ReceiveData(chunk, delivered)
		require.NoError(t, err)
		require.NotZero(t, n, "timed out waiting for a chunk")
		got.Write(chunk[:n])
	}
	assert.True(t, bytes.Equal(payload, got.Bytes()))
}

func TestUDPReceiveTimeoutIsNotAnError(t *testing.T) {
	server, _ := startServer(t, UDP)

	// Nothing was sent: a timed receive reports zero bytes, not an error.
	buf := make([]byte, 16)
	n, err := server.ReceiveData(buf, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestServerReceiveTCPRequiresClient(t *testing.T) {
	server, _ := startServer(t, TCP)
	_, err := server.ReceiveData(make([]byte, 1), nil)
	require.ErrorIs(t, err, iriserr.ErrInvalidArgument)
}

func TestUDPExactChunkSizeRoundTrip(t *testing.T) {
	ctx := context.Background()
	server, service := startServer(t, UDP)
	server.SetReceiveTimeout(2 * time.Second)

	attached := NewClient(UDP)
	require.NoError(t, attached.Attach(ctx, "127.0.0.1", service))
	defer attached.Detach()

	payload := bytes.Repeat([]byte{0xAB}, UDPPacketSize)
	n, err := attached.SendData(payload)
	require.NoError(t, err)
	require.Equal(t, UDPPacketSize, n)

	delivered := NewClient(UDP)
	require.NoError(t, server.GetClient(ctx, delivered))
	defer delivered.Detach()

	buf := make([]byte, UDPPacketSize)
	n, err = server.ReceiveData(buf, delivered)
	require.NoError(t, err)
	require.Equal(t, UDPPacketSize, n)
	assert.True(t, bytes.Equal(payload, buf))
}
