package bufpool

import "testing"

func TestGetReturnsRequestedLength(t *testing.T) {
	p := New()
	for _, size := range []int{10, smallTier, mediumTier + 1, largeTier} {
		buf := p.Get(size)
		if len(*buf) != size {
			t.Fatalf("Get(%d) length = %d, want %d", size, len(*buf), size)
		}
	}
}

func TestPutGetReusesBackingArray(t *testing.T) {
	p := New()
	buf := p.Get(smallTier)
	addr := &(*buf)[0]
	p.Put(buf)

	reused := p.Get(smallTier)
	if &(*reused)[0] != addr {
		t.Skip("pool did not reuse the same backing array this run (sync.Pool offers no guarantee); not a correctness failure")
	}
}

func TestPutClearsLength(t *testing.T) {
	p := New()
	buf := p.Get(100)
	*buf = append((*buf)[:0], []byte("data")...)
	p.Put(buf)

	reused := p.Get(smallTier)
	if len(*reused) != smallTier {
		t.Fatalf("Get after Put length = %d, want %d", len(*reused), smallTier)
	}
}
