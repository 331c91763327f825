package protocol

import (
	"encoding/binary"
	"errors"
)

// ErrFrameTooLarge is returned by Feed when a declared frame length exceeds
// MaxFrameBytes, guarding against a malformed or hostile peer driving
// unbounded buffer growth.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

// LengthPrefixed frames each message as a 4-byte big-endian length prefix
// followed by that many payload bytes — the echo scenario's protocol
// (spec.md §8 "E3"), and the simplest strategy a new transport can adopt
// without needing a full WebSocket handshake.
type LengthPrefixed struct {
	MaxFrameBytes int
	buf           []byte
}

// NewLengthPrefixed creates a framer with the given per-frame size ceiling.
func NewLengthPrefixed(maxFrameBytes int) *LengthPrefixed {
	if maxFrameBytes <= 0 {
		maxFrameBytes = 1 << 20
	}
	return &LengthPrefixed{MaxFrameBytes: maxFrameBytes}
}

func (p *LengthPrefixed) Feed(data []byte) ([][]byte, error) {
	p.buf = append(p.buf, data...)

	var frames [][]byte
	for {
		if len(p.buf) < 4 {
			break
		}
		n := int(binary.BigEndian.Uint32(p.buf[:4]))
		if n > p.MaxFrameBytes {
			return frames, ErrFrameTooLarge
		}
		if len(p.buf) < 4+n {
			break
		}
		frame := make([]byte, n)
		copy(frame, p.buf[4:4+n])
		frames = append(frames, frame)
		p.buf = p.buf[4+n:]
	}
	return frames, nil
}

func (p *LengthPrefixed) Encode(payload []byte) ([]byte, error) {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out, nil
}

func (p *LengthPrefixed) Reset() { p.buf = p.buf[:0] }
