package protocol

import (
	"bytes"
	"testing"
)

func TestLengthPrefixedRoundTrip(t *testing.T) {
	p := NewLengthPrefixed(0)
	wire, err := p.Encode([]byte("hello"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	frames, err := p.Feed(wire)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(frames) != 1 || !bytes.Equal(frames[0], []byte("hello")) {
		t.Fatalf("frames = %v, want [\"hello\"]", frames)
	}
}

func TestLengthPrefixedSplitAcrossFeeds(t *testing.T) {
	p := NewLengthPrefixed(0)
	wire, _ := p.Encode([]byte("split-me"))

	frames, err := p.Feed(wire[:3])
	if err != nil {
		t.Fatalf("Feed partial header: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("partial feed produced %d frames, want 0", len(frames))
	}

	frames, err = p.Feed(wire[3:])
	if err != nil {
		t.Fatalf("Feed remainder: %v", err)
	}
	if len(frames) != 1 || !bytes.Equal(frames[0], []byte("split-me")) {
		t.Fatalf("frames = %v, want [\"split-me\"]", frames)
	}
}

func TestLengthPrefixedMultipleFramesOneFeed(t *testing.T) {
	p := NewLengthPrefixed(0)
	a, _ := p.Encode([]byte("a"))
	b, _ := p.Encode([]byte("bb"))

	frames, err := p.Feed(append(a, b...))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(frames) != 2 || string(frames[0]) != "a" || string(frames[1]) != "bb" {
		t.Fatalf("frames = %v, want [a bb]", frames)
	}
}

func TestLengthPrefixedRejectsOversizedFrame(t *testing.T) {
	p := NewLengthPrefixed(4)
	wire, _ := NewLengthPrefixed(0).Encode([]byte("toolong"))

	if _, err := p.Feed(wire); err != ErrFrameTooLarge {
		t.Fatalf("Feed err = %v, want ErrFrameTooLarge", err)
	}
}
