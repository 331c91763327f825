package core

import "sync/atomic"

// denseTableSize bounds the dense, reflection-free part of an actor's event
// table (spec.md §3: "dense u32[type_id] → handler_thunk with overflow to a
// hash map"). Type-ids beyond this fall back to the overflow map; in
// practice almost every actor's registered events fit in the dense range
// since type-ids are assigned in first-use order, process-wide.
const denseTableSize = 64

type thunk func(env *Envelope)

type eventTable struct {
	dense    [denseTableSize]thunk
	overflow map[TypeID]thunk
}

func (t *eventTable) set(id TypeID, fn thunk) {
	if int(id) < denseTableSize {
		t.dense[id] = fn
		return
	}
	if t.overflow == nil {
		t.overflow = make(map[TypeID]thunk)
	}
	t.overflow[id] = fn
}

func (t *eventTable) get(id TypeID) thunk {
	if int(id) < denseTableSize {
		return t.dense[id]
	}
	if t.overflow == nil {
		return nil
	}
	return t.overflow[id]
}

func (t *eventTable) delete(id TypeID) {
	if int(id) < denseTableSize {
		t.dense[id] = nil
		return
	}
	if t.overflow != nil {
		delete(t.overflow, id)
	}
}

// ICallback is the mix-in an actor implements to receive a per-tick hook,
// invoked at most once per shard tick between the inbound drain and local
// dispatch steps (spec.md §3 invariant 5, §4.8 step 3).
type ICallback interface {
	OnTick()
}

// Actor is the minimal identity+lifecycle contract every actor satisfies.
// Application actors embed ActorBase, which implements this for them, and
// add RegisterEvent calls from their OnInit.
type Actor interface {
	ID() ActorId
	OnInit() bool
	Kill()

	kernel() *kernelState
}

// kernelState is the bookkeeping the shard needs to own, dispatch to and
// eventually reap an actor. It is unexported: application code only ever
// reaches it through ActorBase's methods.
type kernelState struct {
	id       ActorId
	shard    *Shard
	aliveVal atomic.Bool
	table    eventTable
	callback ICallback
}

// ActorBase provides the identity, event table and send operations every
// actor needs, grounded on the bookkeeping sharded.Shard kept per-client in
// the teacher (handleRegister/handleUnregister in sharded/shard.go),
// generalized from "client in a map" to "actor in a shard-owned slot with
// an alive bit".
type ActorBase struct {
	kernelState
}

// OnInit is the default lifecycle hook; application actors override it by
// defining their own OnInit method, which shadows this one since Go method
// promotion resolves to the outermost declaration.
func (a *ActorBase) OnInit() bool { return true }

// ID returns this actor's address. Valid only after the shard has attached
// the actor (i.e., from OnInit onward).
func (a *ActorBase) ID() ActorId { return a.id }

// Kill marks the actor not-alive. The owning shard reaps it after the
// current dispatch completes (spec.md §3 "Actor" lifecycle, §9 "killed
// after the current dispatch on the owning shard completes").
func (a *ActorBase) Kill() { a.aliveVal.Store(false) }

func (a *ActorBase) kernel() *kernelState { return &a.kernelState }

func (k *kernelState) alive() bool { return k.aliveVal.Load() }

// RegisterEvent attaches a handler for E to actor a. Idempotent: a second
// call for the same E replaces the thunk (spec.md §4.1: "Idempotent;
// replaces existing entry with warning in debug").
func RegisterEvent[E any](a Actor, handler func(env *Envelope, evt *E)) {
	id := TypeIDOf[E]()
	a.kernel().table.set(id, func(env *Envelope) {
		if evt, ok := env.Payload.(*E); ok {
			handler(env, evt)
		}
	})
}

// UnregisterEvent removes E's handler from a's event table.
func UnregisterEvent[E any](a Actor) {
	id := TypeIDOf[E]()
	a.kernel().table.delete(id)
}

// Push constructs an event of type E destined for dest, appending it to the
// sender's outbound buffer: the local inbox if dest shares the sender's
// shard, otherwise the outbound pipe to dest's shard (spec.md §4.7 routing
// rule). It returns a pointer to the constructed event, valid until the
// next send on the same shard, mirroring "push<E>(dest, args...) → E&".
func Push[E any](a Actor, dest ActorId, evt E) *E {
	k := a.kernel()
	boxed := new(E)
	*boxed = evt
	env := &Envelope{
		TypeID: TypeIDOf[E](),
		Flags:  FlagAlive,
		Dest:   dest,
		Source: k.id,
		Payload: boxed,
	}
	if isLiveAlloc[E]() {
		env.Flags |= FlagLiveAlloc
	}
	k.shard.route(env)
	return boxed
}

// Broadcast sends an event of type E to every alive actor on shardIndex
// (spec.md §4.7 "broadcast<E>(args...)").
func Broadcast[E any](a Actor, shardIndex uint16, evt E) {
	k := a.kernel()
	boxed := new(E)
	*boxed = evt
	env := &Envelope{
		TypeID: TypeIDOf[E](),
		Flags:  FlagAlive | FlagBroadcast,
		Dest:   BroadcastId(shardIndex),
		Source: k.id,
		Payload: boxed,
	}
	k.shard.route(env)
}

// Reply re-routes a copy of the received envelope's logical reply path:
// it sends evt back to the original sender (env.Source) without requiring
// the caller to look up the address itself.
func Reply[E any](a Actor, env *Envelope, evt E) *E {
	return Push(a, env.Source, evt)
}

// Forward re-sends the exact envelope just received to newDest, preserving
// its original Source so the eventual handler still sees who first sent it
// (spec.md §4.7 "forward(new_dest, event_received) — re-route ... without
// copying its payload").
func Forward(a Actor, newDest ActorId, env *Envelope) {
	k := a.kernel()
	fwd := &Envelope{
		TypeID:  env.TypeID,
		Flags:   env.Flags,
		Dest:    newDest,
		Source:  env.Source,
		Payload: env.Payload,
	}
	k.shard.route(fwd)
}
