//go:build linux

package poller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	iriserr "github.com/geokapp/iris/core/errors"
)

func pair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestRegisterWaitTagFidelity(t *testing.T) {
	p, err := Open()
	require.NoError(t, err)
	defer p.Close()

	rd, wr := pair(t)

	// A tag using the full 64-bit range must come back verbatim.
	const tag = uint64(2)<<32 | 7
	require.NoError(t, p.Register(int32(rd), tag))

	_, err = unix.Write(wr, []byte{1})
	require.NoError(t, err)

	events := make([]Event, 8)
	n, err := p.Wait(events)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, tag, events[0].Tag)
	assert.True(t, events[0].Readable)
}

func TestLevelTriggered(t *testing.T) {
	p, err := Open()
	require.NoError(t, err)
	defer p.Close()

	rd, wr := pair(t)
	require.NoError(t, p.Register(int32(rd), 1))

	_, err = unix.Write(wr, []byte{1})
	require.NoError(t, err)

	events := make([]Event, 1)
	// Unread data keeps the descriptor ready across waits.
	for i := 0; i < 2; i++ {
		n, err := p.Wait(events)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}
}

func TestRegisterTwiceFails(t *testing.T) {
	p, err := Open()
	require.NoError(t, err)
	defer p.Close()

	rd, _ := pair(t)
	require.NoError(t, p.Register(int32(rd), 1))
	err = p.Register(int32(rd), 2)
	require.ErrorIs(t, err, iriserr.ErrRegistration)
}

func TestDeregister(t *testing.T) {
	p, err := Open()
	require.NoError(t, err)
	defer p.Close()

	rd, _ := pair(t)
	require.NoError(t, p.Register(int32(rd), 1))
	require.NoError(t, p.Deregister(int32(rd)))

	// A second removal is best-effort and reports the failure.
	assert.Error(t, p.Deregister(int32(rd)))
}

func TestWaitEmptyBuffer(t *testing.T) {
	p, err := Open()
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Wait(nil)
	require.ErrorIs(t, err, iriserr.ErrInvalidArgument)
}

func TestCloseIdempotent(t *testing.T) {
	p, err := Open()
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}
