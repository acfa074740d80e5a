// Package channel implements the length-prefixed duplex byte stream
// between the supervisor and one child. Each message is a 4-byte
// big-endian length followed by that many bytes of CBOR payload
// (internal/codec).
package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned by Receive when the peer closed its end in an
// orderly fashion (a zero-length read on the header).
var ErrClosed = errors.New("channel: closed")

// TransportError wraps an I/O failure on the underlying stream.
type TransportError struct{ Err error }

func (e *TransportError) Error() string { return fmt.Sprintf("channel transport: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

const (
	headerSize = 4
	// maxFrameSize bounds a single frame so a corrupt or hostile length
	// prefix can't make Receive allocate unbounded memory.
	maxFrameSize = 64 << 20
)

// Channel is one end of a duplex byte stream, normally the parent's end
// of an OS socketpair whose sibling fd was handed to a forked child via
// ExtraFiles.
//
// Send and Receive each hold their own mutex rather than a single
// channel-wide lock: the goal is just to stop two goroutines from
// interleaving partial frames on the same direction — there is no
// signal handler touching channel state, so a plain mutex is
// sufficient.
type Channel struct {
	f *os.File

	sendMu sync.Mutex
	recvMu sync.Mutex
}

// New wraps an open file (one end of a socketpair or pipe) as a framed
// channel. The caller retains ownership of f and must not use it
// directly after wrapping.
func New(f *os.File) *Channel {
	return &Channel{f: f}
}

// Send serializes msg and writes it as one frame. Blocks until the
// whole frame is delivered or a write error occurs.
func (c *Channel) Send(msg any) error {
	payload, err := marshalPayload(msg)
	if err != nil {
		return err
	}
	if len(payload) > maxFrameSize {
		return &TransportError{Err: fmt.Errorf("frame too large: %d bytes", len(payload))}
	}

	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if _, err := writeFull(c.f, header); err != nil {
		return &TransportError{Err: err}
	}
	if _, err := writeFull(c.f, payload); err != nil {
		return &TransportError{Err: err}
	}
	return nil
}

// Receive reads exactly one frame and deserializes it into a
// map[string]any (the channel's payloads are always CBOR maps — batches,
// results, and control envelopes all marshal that way). Returns
// ErrClosed on orderly peer close.
func (c *Channel) Receive() (map[string]any, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	header := make([]byte, headerSize)
	n, err := readFull(c.f, header)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if n == 0 {
		return nil, ErrClosed
	}

	length := binary.BigEndian.Uint32(header)
	if length > maxFrameSize {
		return nil, &TransportError{Err: fmt.Errorf("frame too large: %d bytes", length)}
	}

	payload := make([]byte, length)
	if _, err := readFull(c.f, payload); err != nil {
		return nil, &TransportError{Err: err}
	}

	return unmarshalPayload(payload)
}

// HasBufferedData reports whether the channel's underlying fd still has
// unread bytes, used by the child table's count_pending semantics for
// STOPPED records: a child that exited with a result still sitting in
// the socket's receive buffer counts as pending until that result is
// drained.
func (c *Channel) HasBufferedData() bool {
	n, err := unix.IoctlGetInt(int(c.f.Fd()), unix.SIOCINQ)
	if err != nil {
		return false
	}
	return n > 0
}

// Close closes the underlying file. Safe to call more than once.
func (c *Channel) Close() error {
	return c.f.Close()
}

// File exposes the underlying *os.File, used by the dispatcher to hand
// the child's end to exec.Cmd.ExtraFiles before closing the parent's
// copy of that fd.
func (c *Channel) File() *os.File {
	return c.f
}

func writeFull(w io.Writer, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := w.Write(buf[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

func readFull(r io.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			if err == io.EOF {
				if total == 0 {
					return 0, nil
				}
				return total, io.ErrUnexpectedEOF
			}
			return total, err
		}
		if n == 0 && err == nil {
			return total, io.ErrNoProgress
		}
	}
	return total, nil
}
