// Package protocol implements the pluggable framing strategies of spec.md
// §4.5 (C5): turning a byte stream into discrete messages for a Session to
// deliver to actors, and serializing outbound events back into wire bytes.
// A Protocol is purely a framing decision; it never touches sockets or
// actors directly — core/session.Session is the only caller.
package protocol

// Protocol incrementally frames an inbound byte stream and serializes
// outbound messages. Implementations are not required to be safe for
// concurrent use: a Session owns exactly one Protocol instance and calls it
// only from its owning shard's goroutine.
type Protocol interface {
	// Feed appends newly-read bytes to the protocol's internal buffer and
	// returns every complete frame it can extract, in order. Partial
	// trailing data is retained internally for the next Feed call.
	Feed(data []byte) ([][]byte, error)

	// Encode serializes one outbound message into wire bytes ready to
	// write to the connection (including any framing the wire format
	// requires, e.g. a length prefix or WebSocket frame header).
	Encode(payload []byte) ([]byte, error)

	// Reset discards any buffered partial frame, e.g. after a protocol
	// error forces a resynchronization attempt.
	Reset()
}
