// Package transport wraps QUIC connections and streams behind the
// bind/connect/accept/open_bi/open_uni surface spec.md §6.3 assumes as a
// provided transport, grounded on github.com/quic-go/quic-go (the
// maintained successor to the pack's lucas-clemente/quic-go used by
// dtn7-gold's pkg/cla/quicl) and on the teacher's length-prefixed framing
// in network/protocol.go.
package transport

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single control-stream frame, mirroring the
// teacher's ErrFrameTooLarge guard in network/protocol.go.
const MaxFrameSize = 16 * 1024 * 1024

// ErrFrameTooLarge indicates a frame payload exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("transport: frame exceeds max size")

// WriteFrame writes one 32-bit-big-endian-length-prefixed JSON frame, per
// spec.md §6.2's "length-prefix: 32-bit big-endian byte length, followed by
// a CBOR-encoded object (or equivalent schema)".
func WriteFrame(w io.Writer, message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("transport: marshal frame: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("transport: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("transport: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON frame into dst.
func ReadFrame(r io.Reader, dst any) error {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("transport: read frame length: %w", err)
	}

	length := binary.BigEndian.Uint32(header)
	if length > MaxFrameSize {
		return ErrFrameTooLarge
	}

	payload := make([]byte, int(length))
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("transport: read frame payload: %w", err)
	}

	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("transport: decode frame: %w", err)
	}
	return nil
}
