package protocol

import (
	"bytes"
	"testing"
)

func TestDelimitedFeedSplitsOnDelimiter(t *testing.T) {
	p := NewDelimited('\n', 0)
	frames, err := p.Feed([]byte("one\ntwo\nthr"))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(frames) != 2 || string(frames[0]) != "one" || string(frames[1]) != "two" {
		t.Fatalf("frames = %v, want [one two]", frames)
	}

	frames, err = p.Feed([]byte("ee\n"))
	if err != nil {
		t.Fatalf("Feed remainder: %v", err)
	}
	if len(frames) != 1 || string(frames[0]) != "three" {
		t.Fatalf("frames = %v, want [three]", frames)
	}
}

func TestDelimitedEncodeAppendsDelimiter(t *testing.T) {
	p := NewDelimited('\n', 0)
	wire, err := p.Encode([]byte("payload"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(wire, []byte("payload\n")) {
		t.Fatalf("wire = %q, want %q", wire, "payload\n")
	}
}

func TestDelimitedRejectsOverlongUndelimitedRun(t *testing.T) {
	p := NewDelimited('\n', 4)
	if _, err := p.Feed([]byte("toolong")); err != ErrFrameTooLarge {
		t.Fatalf("Feed err = %v, want ErrFrameTooLarge", err)
	}
}

func TestDelimitedReset(t *testing.T) {
	p := NewDelimited('\n', 0)
	if _, err := p.Feed([]byte("partial")); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	p.Reset()
	frames, err := p.Feed([]byte("fresh\n"))
	if err != nil {
		t.Fatalf("Feed after Reset: %v", err)
	}
	if len(frames) != 1 || string(frames[0]) != "fresh" {
		t.Fatalf("frames = %v, want [fresh] (Reset must discard \"partial\")", frames)
	}
}
