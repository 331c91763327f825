package protocol

import "testing"

func TestWebSocketEncodeFeedRoundTrip(t *testing.T) {
	p := NewWebSocket()
	wire, err := p.Encode([]byte("hello"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	frames, err := p.Feed(wire)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(frames) != 1 || string(frames[0]) != "hello" {
		t.Fatalf("frames = %v, want [hello]", frames)
	}
}

func TestWebSocketFeedSplitAcrossCalls(t *testing.T) {
	p := NewWebSocket()
	wire, _ := p.Encode([]byte("split-me"))

	frames, err := p.Feed(wire[:2])
	if err != nil {
		t.Fatalf("Feed partial: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("partial feed produced %d frames, want 0", len(frames))
	}

	frames, err = p.Feed(wire[2:])
	if err != nil {
		t.Fatalf("Feed remainder: %v", err)
	}
	if len(frames) != 1 || string(frames[0]) != "split-me" {
		t.Fatalf("frames = %v, want [split-me]", frames)
	}
}

func TestWebSocketResetDiscardsPartialFrame(t *testing.T) {
	p := NewWebSocket()
	wire, _ := p.Encode([]byte("discarded"))
	if _, err := p.Feed(wire[:2]); err != nil {
		t.Fatalf("Feed partial: %v", err)
	}

	p.Reset()

	full, _ := p.Encode([]byte("fresh"))
	frames, err := p.Feed(full)
	if err != nil {
		t.Fatalf("Feed after Reset: %v", err)
	}
	if len(frames) != 1 || string(frames[0]) != "fresh" {
		t.Fatalf("frames = %v, want [fresh]", frames)
	}
}

func TestWebSocketPendingControlRepliesStartsEmpty(t *testing.T) {
	p := NewWebSocket()
	if replies := p.PendingControlReplies(); len(replies) != 0 {
		t.Fatalf("PendingControlReplies = %v, want none before any control frame is fed", replies)
	}
}
