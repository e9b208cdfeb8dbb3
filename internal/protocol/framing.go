package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameBytes bounds a single frame's declared length, protecting the
// daemon from a corrupt or hostile length prefix that would otherwise
// trigger an enormous allocation.
const MaxFrameBytes = 64 << 20 // 64 MiB

// WriteFrame writes v as a single length-prefixed JSON frame: a 4-byte
// little-endian length followed by that many bytes of UTF-8 JSON.
func WriteFrame(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling frame: %w", err)
	}

	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, uint32(len(body)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("writing frame body: %w", err)
	}
	return nil
}

// ReadFrame reads a single length-prefixed JSON frame from r and
// unmarshals it into v.
func ReadFrame(r io.Reader, v interface{}) error {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading frame header: %w", err)
	}

	length := binary.LittleEndian.Uint32(header)
	if length > MaxFrameBytes {
		return fmt.Errorf("frame length %d exceeds maximum %d", length, MaxFrameBytes)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("reading frame body: %w", err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unmarshaling frame: %w", err)
	}
	return nil
}

// ReadRawFrame reads a single length-prefixed frame's body without
// decoding it, so the caller can peek at the "type" discriminator
// before choosing which concrete struct to unmarshal into.
func ReadRawFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("reading frame header: %w", err)
	}

	length := binary.LittleEndian.Uint32(header)
	if length > MaxFrameBytes {
		return nil, fmt.Errorf("frame length %d exceeds maximum %d", length, MaxFrameBytes)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}
	return body, nil
}
