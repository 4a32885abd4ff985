package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFrameTooShort reports a binary frame truncated below its declared layout.
	ErrFrameTooShort = errors.New("protocol: frame too short")
	// ErrIDTooLong reports a transfer id that does not fit the one-byte length prefix.
	ErrIDTooLong = errors.New("protocol: transfer id too long")
)

// Frame is a decoded binary chunk frame.
//
// Wire layout, one channel message per frame:
//
//	byte 0:            id length (0-255)
//	bytes 1..idLen:    transfer id (UTF-8)
//	[encrypted] +12:   IV
//	remaining:         ciphertext or raw chunk bytes
type Frame struct {
	ID      string
	IV      []byte
	Payload []byte
}

// EncodeFrame packs a chunk into its wire form. A nil iv produces a
// plaintext frame; a 12-byte iv produces the encrypted layout.
func EncodeFrame(id string, iv, payload []byte) ([]byte, error) {
	if len(id) > MaxIDLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrIDTooLong, len(id))
	}
	if len(iv) != 0 && len(iv) != IVSize {
		return nil, fmt.Errorf("protocol: invalid IV length %d", len(iv))
	}

	frame := make([]byte, 0, 1+len(id)+len(iv)+len(payload))
	frame = append(frame, byte(len(id)))
	frame = append(frame, id...)
	frame = append(frame, iv...)
	frame = append(frame, payload...)
	return frame, nil
}

// DecodeFrame unpacks a binary frame. The caller decides the encrypted
// flag from the transfer's metadata; it controls whether the 12 bytes
// after the id are an IV or part of the payload.
func DecodeFrame(data []byte, encrypted bool) (Frame, error) {
	if len(data) < 1 {
		return Frame{}, ErrFrameTooShort
	}
	idLen := int(data[0])
	if len(data) < 1+idLen {
		return Frame{}, fmt.Errorf("%w: id length %d exceeds frame", ErrFrameTooShort, idLen)
	}

	f := Frame{ID: string(data[1 : 1+idLen])}
	rest := data[1+idLen:]

	if encrypted {
		if len(rest) < IVSize {
			return Frame{}, fmt.Errorf("%w: missing IV", ErrFrameTooShort)
		}
		f.IV = rest[:IVSize]
		f.Payload = rest[IVSize:]
	} else {
		f.Payload = rest
	}
	return f, nil
}

// FrameID peeks the transfer id without committing to an encryption mode,
// so the receiver can route or drop a frame before it knows whether the
// owning transfer is encrypted.
func FrameID(data []byte) (string, error) {
	if len(data) < 1 {
		return "", ErrFrameTooShort
	}
	idLen := int(data[0])
	if len(data) < 1+idLen {
		return "", fmt.Errorf("%w: id length %d exceeds frame", ErrFrameTooShort, idLen)
	}
	return string(data[1 : 1+idLen]), nil
}

// IsProbeID reports whether a transfer id belongs to the calibration protocol.
func IsProbeID(id string) bool {
	return strings.HasPrefix(id, ProbeIDPrefix)
}
