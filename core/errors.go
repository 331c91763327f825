package core

import "errors"

// ErrActorInitFailed is returned by a shard's spawn when an actor's OnInit
// returns false (spec.md §3 "Actor" lifecycle: OnInit may reject startup).
var ErrActorInitFailed = errors.New("core: actor OnInit returned false")

// ErrNoSuchShard is returned when a caller addresses a shard index that was
// never wired into the running Main.
var ErrNoSuchShard = errors.New("core: no such shard index")

// ErrAlreadyStarted is returned by Start when called more than once.
var ErrAlreadyStarted = errors.New("core: already started")

// ErrShardFull is returned by spawn when a shard already has 65535 live
// actor slots (service_id is 16 bits, with 0 reserved for broadcast) and
// none of them have been reaped yet.
var ErrShardFull = errors.New("core: shard has no free actor slots")
