//go:build linux

package endpoint

import (
	"bytes"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	iriserr "github.com/geokapp/iris/core/errors"
)

// UDPPacketSize is the maximum datagram payload. SendData fragments larger
// buffers into chunks of this size; the receiver reassembles, no sequencing
// or acknowledgement is provided.
const UDPPacketSize = 1400

// sendStream writes the whole buffer to a connected stream socket. Partial
// writes are retried, never reported as success.
func sendStream(fd int32, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := unix.Write(int(fd), buf[total:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, fmt.Errorf("send: %w: %v", iriserr.ErrIO, err)
		}
		total += n
	}
	return total, nil
}

// sendDatagrams fragments the buffer into UDPPacketSize chunks and sends
// each one to the peer address.
func sendDatagrams(fd int32, buf []byte, to unix.Sockaddr) (int, error) {
	if to == nil {
		return 0, fmt.Errorf("send: no peer address: %w", iriserr.ErrInvalidArgument)
	}
	if len(buf) == 0 {
		if err := unix.Sendto(int(fd), nil, 0, to); err != nil {
			return 0, fmt.Errorf("sendto: %w: %v", iriserr.ErrIO, err)
		}
		return 0, nil
	}
	total := 0
	for off := 0; off < len(buf); off += UDPPacketSize {
		end := off + UDPPacketSize
		if end > len(buf) {
			end = len(buf)
		}
		if err := unix.Sendto(int(fd), buf[off:end], 0, to); err != nil {
			return total, fmt.Errorf("sendto: %w: %v", iriserr.ErrIO, err)
		}
		total += end - off
	}
	return total, nil
}

// receiveStream reads from a connected stream socket until the buffer is
// full or the peer closes. With stopAtNUL set it additionally stops after a
// read that contains a NUL byte, reproducing the legacy text-protocol
// behavior; binary protocols must leave it off.
func receiveStream(fd int32, buf []byte, stopAtNUL bool) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := unix.Read(int(fd), buf[total:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, fmt.Errorf("recv: %w: %v", iriserr.ErrIO, err)
		}
		if n == 0 {
			break
		}
		sawNUL := stopAtNUL && bytes.IndexByte(buf[total:total+n], 0) >= 0
		total += n
		if sawNUL {
			break
		}
	}
	return total, nil
}

// receiveDatagram performs one timed receive on a datagram socket. A timeout
// with nothing available returns zero bytes, not an error.
func receiveDatagram(fd int32, buf []byte, timeout time.Duration) (int, error) {
	pfd := []unix.PollFd{{Fd: fd, Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(pfd, int(timeout.Milliseconds()))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("poll: %w: %v", iriserr.ErrIO, err)
		}
		if n == 0 {
			return 0, nil
		}
		break
	}
	n, _, err := unix.Recvfrom(int(fd), buf, 0)
	if err != nil {
		return 0, fmt.Errorf("recvfrom: %w: %v", iriserr.ErrIO, err)
	}
	return n, nil
}
