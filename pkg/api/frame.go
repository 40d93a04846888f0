package api

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame layout: one zero header byte, a little-endian uint32 payload
// length, then the CBOR payload.
const (
	frameHeader  = 0x00
	maxFrameSize = 1 << 20
)

// ErrFrame is wrapped by framing violations.
var ErrFrame = errors.New("api: bad frame")

func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("%w: payload %d exceeds limit", ErrFrame, len(payload))
	}
	hdr := make([]byte, 5)
	hdr[0] = frameHeader
	binary.LittleEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	hdr := make([]byte, 5)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	if hdr[0] != frameHeader {
		return nil, fmt.Errorf("%w: header byte 0x%02x", ErrFrame, hdr[0])
	}
	n := binary.LittleEndian.Uint32(hdr[1:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("%w: payload length %d exceeds limit", ErrFrame, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
