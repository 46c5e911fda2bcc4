//go:build linux

package resolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	iriserr "github.com/geokapp/iris/core/errors"
)

func TestResolveNumericService(t *testing.T) {
	candidates, err := Resolve(context.Background(), "localhost", "9999", TCP, false)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)

	for _, c := range candidates {
		assert.Equal(t, unix.SOCK_STREAM, c.SockType)
		assert.Equal(t, uint16(9999), c.AddrPort.Port())
		assert.NotNil(t, c.Sockaddr)
	}
}

func TestResolveWildcardPassive(t *testing.T) {
	candidates, err := Resolve(context.Background(), "", "0", UDP, true)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, unix.AF_INET6, candidates[0].Family)
	assert.True(t, candidates[0].AddrPort.Addr().IsUnspecified())
	assert.Equal(t, unix.AF_INET, candidates[1].Family)
	assert.True(t, candidates[1].AddrPort.Addr().IsUnspecified())
	for _, c := range candidates {
		assert.Equal(t, unix.SOCK_DGRAM, c.SockType)
	}
}

func TestResolveEmptyHostActive(t *testing.T) {
	_, err := Resolve(context.Background(), "", "80", TCP, false)
	require.ErrorIs(t, err, iriserr.ErrInvalidArgument)
}

func TestResolveEmptyService(t *testing.T) {
	_, err := Resolve(context.Background(), "localhost", "", TCP, true)
	require.ErrorIs(t, err, iriserr.ErrInvalidArgument)
}

func TestResolveUnresolvableHost(t *testing.T) {
	_, err := Resolve(context.Background(), "host.invalid", "80", TCP, false)
	require.ErrorIs(t, err, iriserr.ErrResolution)
}

func TestResolveUnknownService(t *testing.T) {
	_, err := Resolve(context.Background(), "localhost", "no-such-service-xyz", TCP, false)
	require.ErrorIs(t, err, iriserr.ErrResolution)
}

func TestProtocolString(t *testing.T) {
	assert.Equal(t, "tcp", TCP.String())
	assert.Equal(t, "udp", UDP.String())
}
