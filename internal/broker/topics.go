// Package broker implements the topic-subscription fan-out pattern of
// _examples/original_source/core_io/message_broker/server/TopicManagerActor.h:
// actors subscribe to named topics, a publisher fans one payload out to
// every current subscriber, and a subscriber's departure is cleaned out of
// every topic it was in with a single call — the Go form of that file's
// map[topic]->set[session_id] plus map[session_id]->set[topic] pair.
//
// Topics is not an actor itself; it is meant to be embedded in (or held
// by) whichever actor owns the fan-out, the same way TopicManagerActor is
// one actor rather than a separate broker service.
package broker

import "github.com/adred-codev/qbgo/core"

// Message is pushed to every current subscriber of Topic on Publish.
type Message struct {
	Topic   string
	Payload []byte
}

// Topics tracks topic subscriptions and fans published messages out to
// subscribers via core.Push.
type Topics struct {
	subscriptions map[string]map[core.ActorId]struct{}
	subscribers   map[core.ActorId]map[string]struct{}
}

// NewTopics constructs an empty subscription table.
func NewTopics() *Topics {
	return &Topics{
		subscriptions: make(map[string]map[core.ActorId]struct{}),
		subscribers:   make(map[core.ActorId]map[string]struct{}),
	}
}

// Subscribe adds subscriber to topic, creating the topic if this is its
// first subscriber.
func (t *Topics) Subscribe(topic string, subscriber core.ActorId) {
	subs, ok := t.subscriptions[topic]
	if !ok {
		subs = make(map[core.ActorId]struct{})
		t.subscriptions[topic] = subs
	}
	subs[subscriber] = struct{}{}

	topics, ok := t.subscribers[subscriber]
	if !ok {
		topics = make(map[string]struct{})
		t.subscribers[subscriber] = topics
	}
	topics[topic] = struct{}{}
}

// Unsubscribe removes subscriber from topic, pruning the topic entirely
// once its last subscriber leaves.
func (t *Topics) Unsubscribe(topic string, subscriber core.ActorId) {
	if subs, ok := t.subscriptions[topic]; ok {
		delete(subs, subscriber)
		if len(subs) == 0 {
			delete(t.subscriptions, topic)
		}
	}
	if topics, ok := t.subscribers[subscriber]; ok {
		delete(topics, topic)
		if len(topics) == 0 {
			delete(t.subscribers, subscriber)
		}
	}
}

// Drop removes subscriber from every topic it belongs to, the Go form of
// TopicManagerActor::on(DisconnectEvent&)'s two-map cleanup — intended to
// be called from a session.Disconnected handler.
func (t *Topics) Drop(subscriber core.ActorId) {
	for topic := range t.subscribers[subscriber] {
		if subs, ok := t.subscriptions[topic]; ok {
			delete(subs, subscriber)
			if len(subs) == 0 {
				delete(t.subscriptions, topic)
			}
		}
	}
	delete(t.subscribers, subscriber)
}

// Publish pushes Message{topic, payload} to every subscriber of topic via
// from's actor kernel, returning the number of subscribers reached.
func (t *Topics) Publish(from core.Actor, topic string, payload []byte) int {
	subs := t.subscriptions[topic]
	n := 0
	for subscriber := range subs {
		core.Push(from, subscriber, Message{Topic: topic, Payload: payload})
		n++
	}
	return n
}

// SubscriberCount reports how many distinct actors are subscribed to
// topic, primarily for tests and metrics.
func (t *Topics) SubscriberCount(topic string) int {
	return len(t.subscriptions[topic])
}
