package core

import (
	"reflect"
	"sync"
	"sync/atomic"
	"unsafe"
)

// TypeID is a process-run-stable identifier assigned to an event type at
// first use. It is never stable across runs and must never be serialized
// to a wire format by itself (spec.md §4.1: "wire serialization must use an
// external stable schema").
type TypeID uint32

// Flags mirror the bit0/bit1/bit2 envelope flags of spec.md §3: alive,
// broadcast, live-alloc. They exist for parity with the specification and
// for metrics/debugging; Go's garbage collector, not a manual destructor,
// reclaims live-alloc payloads here.
type Flags uint16

const (
	FlagAlive Flags = 1 << iota
	FlagBroadcast
	FlagLiveAlloc
)

// envelopeHeaderSize is the fixed prefix size from spec.md §3. Kept as a
// named constant so bucket-size accounting matches the specification even
// though Go events are boxed values, not an in-memory C-struct layout.
const envelopeHeaderSize = 16

// Envelope is the unit of delivery between actors: a typed payload plus the
// routing/identity prefix described in spec.md §3.
type Envelope struct {
	TypeID  TypeID
	Flags   Flags
	Dest    ActorId
	Source  ActorId
	Payload any
}

// Alive reports whether the destination actor was alive when this envelope
// was produced. Dispatch re-checks liveness at delivery time regardless.
func (e *Envelope) Alive() bool { return e.Flags&FlagAlive != 0 }

// Bucket returns the envelope's size in 8-byte units, matching spec.md's
// bucket_size field: the 16-byte prefix plus the payload's in-memory size
// rounded up to 8 bytes. Used for metrics and for the "oversized event"
// live-alloc routing decision (spec.md §4.1 edge cases).
func (e *Envelope) Bucket() int {
	return bucketUnits(payloadSize(e.Payload))
}

func bucketUnits(payloadBytes int) int {
	total := envelopeHeaderSize + payloadBytes
	return (total + 7) / 8
}

func payloadSize(payload any) int {
	if payload == nil {
		return 0
	}
	v := reflect.ValueOf(payload)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	return int(v.Type().Size())
}

// overflowThresholdBytes is the size above which an event is routed through
// the heap-allocated "live-alloc" path instead of being copied inline, per
// spec.md §4.1 ("bucket_size > pipe_capacity/2").
const overflowThresholdBytes = 256

var typeRegistry struct {
	mu      sync.Mutex
	nextID  uint32
	ids     map[reflect.Type]TypeID
	sizeOf  map[TypeID]uintptr
	nameOf  map[TypeID]string
}

func init() {
	typeRegistry.ids = make(map[reflect.Type]TypeID)
	typeRegistry.sizeOf = make(map[TypeID]uintptr)
	typeRegistry.nameOf = make(map[TypeID]string)
}

// TypeIDOf returns the process-stable TypeID for E, assigning one on first
// use (spec.md §4.1: "monotonically increasing at first use per
// (event_type) pair"). Safe for concurrent use from any shard.
func TypeIDOf[E any]() TypeID {
	var zero E
	t := reflect.TypeOf(zero)

	typeRegistry.mu.Lock()
	defer typeRegistry.mu.Unlock()

	if id, ok := typeRegistry.ids[t]; ok {
		return id
	}
	id := TypeID(atomic.AddUint32(&typeRegistry.nextID, 1))
	typeRegistry.ids[t] = id
	typeRegistry.sizeOf[id] = t.Size()
	typeRegistry.nameOf[id] = t.String()
	return id
}

// TypeName returns the registered type's name, for logging/debugging.
func TypeName(id TypeID) string {
	typeRegistry.mu.Lock()
	defer typeRegistry.mu.Unlock()
	return typeRegistry.nameOf[id]
}

// isLiveAlloc reports whether E's zero value is large enough, or owns
// enough indirect state, to warrant the live-alloc / overflow path rather
// than an inline bucket copy.
func isLiveAlloc[E any]() bool {
	var zero E
	return int(unsafe.Sizeof(zero)) > overflowThresholdBytes
}
