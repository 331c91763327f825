package core

import "fmt"

// ActorId addresses an actor as {service_id:16 | shard_index:16}.
// service_id==0 is reserved for shard-wide broadcast. NullId is the
// all-bits-set sentinel rather than the zero value: service_id==0 with
// shard_index==0 is BroadcastId(0), a perfectly valid address, so the null
// id cannot also be the zero value without the two colliding.
type ActorId uint32

// NullId is the sentinel ActorId meaning no actor, no shard.
const NullId ActorId = 0xFFFFFFFF

// broadcastService is the reserved service_id meaning "every alive actor on
// the target shard".
const broadcastService = 0

func newActorId(serviceID, shardIndex uint16) ActorId {
	return ActorId(uint32(serviceID)<<16 | uint32(shardIndex))
}

// BroadcastId returns the ActorId that, used as a push/send destination,
// fans out to every alive actor registered on the given shard.
func BroadcastId(shardIndex uint16) ActorId {
	return newActorId(broadcastService, shardIndex)
}

// ServiceID returns the service-id half of the id (actor slot on its shard).
func (id ActorId) ServiceID() uint16 {
	return uint16(id >> 16)
}

// ShardIndex returns the shard that owns (or, for broadcast ids, targets)
// this id. It is the only shard permitted to construct, mutate or destroy
// the referenced actor.
func (id ActorId) ShardIndex() uint16 {
	return uint16(id)
}

// IsBroadcast reports whether id addresses every actor on its shard rather
// than one specific actor. NullId's service_id is 0xFFFF, never
// broadcastService, so the null id can never test as a broadcast id.
func (id ActorId) IsBroadcast() bool {
	return id.ServiceID() == broadcastService
}

// IsNull reports whether id is the null id.
func (id ActorId) IsNull() bool {
	return id == NullId
}

func (id ActorId) String() string {
	if id.IsNull() {
		return "actor:null"
	}
	if id.IsBroadcast() {
		return fmt.Sprintf("actor:broadcast(shard=%d)", id.ShardIndex())
	}
	return fmt.Sprintf("actor:%d.%d", id.ShardIndex(), id.ServiceID())
}

// ActorIdList is a batch of ids returned by a shard's fluent builder, e.g.
// for spawning many actors of the same type on one shard.
type ActorIdList []ActorId
