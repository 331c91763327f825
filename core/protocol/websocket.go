package protocol

import (
	"bytes"
	"io"

	"github.com/gobwas/ws"
)

// WebSocket frames and unframes RFC 6455 data frames after the initial
// HTTP upgrade handshake (performed once by the accepting actor, not here)
// using github.com/gobwas/ws — the same framing library the teacher's
// go-server/pkg/websocket and go-server-3/internal/session/hub.go use for
// their production WebSocket relay. Feed accumulates raw bytes and
// extracts every fully-buffered data frame's unmasked payload; ping and
// close control frames are answered automatically and the replies queued
// for the session to flush via PendingControlReplies. Pong frames are
// consumed and discarded without a reply.
type WebSocket struct {
	buf     []byte
	pending [][]byte
}

// NewWebSocket creates a framer for one already-upgraded connection.
func NewWebSocket() *WebSocket { return &WebSocket{} }

func (p *WebSocket) Feed(data []byte) ([][]byte, error) {
	p.buf = append(p.buf, data...)

	var frames [][]byte
	for {
		r := bytes.NewReader(p.buf)
		header, err := ws.ReadHeader(r)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break // header not fully buffered yet
			}
			return frames, err
		}
		consumedHeader := len(p.buf) - r.Len()
		if r.Len() < int(header.Length) {
			break // payload not fully buffered yet
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return frames, err
		}
		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		switch header.OpCode {
		case ws.OpText, ws.OpBinary, ws.OpContinuation:
			frames = append(frames, payload)
		case ws.OpPing, ws.OpClose:
			p.handleControl(header.OpCode, payload)
		}

		p.buf = p.buf[consumedHeader+int(header.Length):]
	}
	return frames, nil
}

func (p *WebSocket) handleControl(op ws.OpCode, payload []byte) {
	var frame ws.Frame
	switch op {
	case ws.OpPing:
		frame = ws.NewPongFrame(payload)
	case ws.OpClose:
		frame = ws.NewCloseFrame(payload)
	default:
		return
	}
	var buf bytes.Buffer
	if err := ws.WriteFrame(&buf, frame); err == nil {
		p.pending = append(p.pending, buf.Bytes())
	}
}

// PendingControlReplies returns and clears the control-frame replies
// queued by the most recent Feed call. The owning Session writes these to
// the connection ahead of any application-level Encode output.
func (p *WebSocket) PendingControlReplies() [][]byte {
	out := p.pending
	p.pending = nil
	return out
}

func (p *WebSocket) Encode(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := ws.WriteFrame(&buf, ws.NewTextFrame(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *WebSocket) Reset() {
	p.buf = p.buf[:0]
	p.pending = nil
}
