package core

import "testing"

type testEventA struct{ N int }
type testEventB struct{ S string }

func TestTypeIDOfStableWithinProcess(t *testing.T) {
	id1 := TypeIDOf[testEventA]()
	id2 := TypeIDOf[testEventA]()
	if id1 != id2 {
		t.Fatalf("TypeIDOf[testEventA]() returned %d then %d, want stable", id1, id2)
	}
}

func TestTypeIDOfDistinctPerType(t *testing.T) {
	idA := TypeIDOf[testEventA]()
	idB := TypeIDOf[testEventB]()
	if idA == idB {
		t.Fatalf("distinct types got the same TypeID %d", idA)
	}
}

func TestTypeName(t *testing.T) {
	id := TypeIDOf[testEventA]()
	if got := TypeName(id); got == "" {
		t.Fatalf("TypeName(%d) is empty", id)
	}
}

func TestEnvelopeBucketAccountsForHeaderAndPayload(t *testing.T) {
	env := &Envelope{Payload: &testEventA{N: 1}}
	if env.Bucket() <= bucketUnits(0) {
		t.Fatalf("Bucket() should exceed the bare header size once a payload is present")
	}
}

func TestEnvelopeAliveFlag(t *testing.T) {
	env := &Envelope{Flags: FlagAlive}
	if !env.Alive() {
		t.Fatalf("Alive() should be true when FlagAlive is set")
	}
	env2 := &Envelope{}
	if env2.Alive() {
		t.Fatalf("Alive() should be false by default")
	}
}
