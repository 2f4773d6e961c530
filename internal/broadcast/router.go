// Package broadcast fans events out to live connections. Publishers hand an
// event to a single dispatcher goroutine which copies it into the send queue
// of every subscriber of the topic. Nothing blocks: a full queue drops the
// event and moves on.
package broadcast

import (
	"context"
	"sync"

	"github.com/deckarep/golang-set"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eashman/realtime-chat/internal/metrics"
)

const (
	DefaultQueueSize      = 1024
	DefaultSubscriberSize = 256
)

// Publisher is what services need from the router.
type Publisher interface {
	Publish(topic Topic, eventType EventType, payload interface{})
}

// Revoker drops subscribers that lost access to a topic.
type Revoker interface {
	Revoke(topic Topic, allowed []int64) int
}

// Broadcaster is what services that also change access need from the router.
type Broadcaster interface {
	Publisher
	Revoker
}

// Relay forwards locally published frames and revocations to other
// instances. Neither call may block.
type Relay interface {
	Forward(topic Topic, frame []byte)
	ForwardRevoke(topic Topic, allowed []int64)
}

type delivery struct {
	topic   Topic
	frame   []byte
	barrier chan struct{}
}

type Subscriber struct {
	ID      string
	ActorID int64

	send   chan []byte
	topics mapset.Set
	closed bool
}

// Send yields encoded frames. It is closed once the subscriber is detached.
func (s *Subscriber) Send() <-chan []byte {
	return s.send
}

func (s *Subscriber) Topics() (topics []Topic) {
	for _, t := range s.topics.ToSlice() {
		topics = append(topics, t.(Topic))
	}
	return
}

func (s *Subscriber) SubscribedTo(topic Topic) bool {
	return s.topics.Contains(topic)
}

var _ Broadcaster = (*Router)(nil)

type Router struct {
	queue          chan delivery
	subscriberSize int
	relay          Relay

	mu     sync.RWMutex
	topics map[Topic]map[*Subscriber]struct{}
}

func NewRouter(queueSize, subscriberSize int) *Router {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if subscriberSize <= 0 {
		subscriberSize = DefaultSubscriberSize
	}

	return &Router{
		queue:          make(chan delivery, queueSize),
		subscriberSize: subscriberSize,
		topics:         make(map[Topic]map[*Subscriber]struct{}),
	}
}

// SetRelay must be called before Run.
func (r *Router) SetRelay(relay Relay) {
	r.relay = relay
}

// Run dispatches queued events until ctx is done, then detaches every
// subscriber so their writers can wind down.
func (r *Router) Run(ctx context.Context) {
	defer r.detachAll()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-r.queue:
			if d.barrier != nil {
				close(d.barrier)
				continue
			}
			r.dispatch(d)
		}
	}
}

func (r *Router) Publish(topic Topic, eventType EventType, payload interface{}) {
	frame, err := Encode(eventType, payload)
	if err != nil {
		zap.L().Error("dropping unencodable event", zap.Stringer("topic", topic), zap.Error(err))
		return
	}

	if r.enqueue(delivery{topic: topic, frame: frame}) {
		metrics.BroadcastPublished.WithLabelValues(string(topic.Scope), string(eventType)).Inc()
	}
	if r.relay != nil {
		r.relay.Forward(topic, frame)
	}
}

// Inject delivers a frame that was already published elsewhere. It is not
// forwarded to the relay again.
func (r *Router) Inject(topic Topic, frame []byte) bool {
	return r.enqueue(delivery{topic: topic, frame: frame})
}

// Flush waits until every event queued before the call has been dispatched.
func (r *Router) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	select {
	case r.queue <- delivery{barrier: barrier}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) enqueue(d delivery) bool {
	select {
	case r.queue <- d:
		return true
	default:
		metrics.BroadcastDropped.WithLabelValues("router").Inc()
		zap.L().Warn("broadcast queue full, dropping event", zap.Stringer("topic", d.topic))
		return false
	}
}

func (r *Router) dispatch(d delivery) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for sub := range r.topics[d.topic] {
		select {
		case sub.send <- d.frame:
			metrics.BroadcastDelivered.Inc()
		default:
			metrics.BroadcastDropped.WithLabelValues("subscriber").Inc()
			zap.L().Debug("subscriber queue full, dropping event",
				zap.String("subscriber", sub.ID),
				zap.Stringer("topic", d.topic),
			)
		}
	}
}

// Revoke unsubscribes every subscriber of topic whose actor is not in
// allowed and tells it with a reject_subscription frame. Events still queued
// for the topic are not delivered to them. It reports how many were dropped
// locally.
func (r *Router) Revoke(topic Topic, allowed []int64) int {
	n := r.revoke(topic, allowed)
	if r.relay != nil {
		r.relay.ForwardRevoke(topic, allowed)
	}
	return n
}

func (r *Router) revoke(topic Topic, allowed []int64) (n int) {
	keep := mapset.NewThreadUnsafeSet()
	for _, id := range allowed {
		keep.Add(id)
	}

	notice, err := Encode(RejectSubscription, revocation{Channel: topic.String(), Reason: "revoked"})
	if err != nil {
		zap.L().Error("failed to encode revocation", zap.Stringer("topic", topic), zap.Error(err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for sub := range r.topics[topic] {
		if keep.Contains(sub.ActorID) {
			continue
		}

		sub.topics.Remove(topic)
		r.remove(sub, topic)
		n++

		if notice != nil {
			select {
			case sub.send <- notice:
			default:
			}
		}
	}

	if n > 0 {
		metrics.BroadcastRevoked.Add(float64(n))
		zap.L().Debug("revoked subscriptions", zap.Stringer("topic", topic), zap.Int("count", n))
	}
	return
}

type revocation struct {
	Channel string `json:"channel"`
	Reason  string `json:"reason"`
}

func (r *Router) NewSubscriber(actorID int64) *Subscriber {
	return &Subscriber{
		ID:      uuid.NewString(),
		ActorID: actorID,
		send:    make(chan []byte, r.subscriberSize),
		topics:  mapset.NewSet(),
	}
}

// Subscribe registers sub for topic. It reports false when sub was already
// subscribed or has been detached.
func (r *Router) Subscribe(sub *Subscriber, topic Topic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub.closed || !sub.topics.Add(topic) {
		return false
	}

	subs, ok := r.topics[topic]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		r.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	metrics.ActiveSubscriptions.Inc()
	return true
}

func (r *Router) Unsubscribe(sub *Subscriber, topic Topic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !sub.topics.Contains(topic) {
		return false
	}
	sub.topics.Remove(topic)
	r.remove(sub, topic)
	return true
}

// Detach drops every subscription of sub and closes its send queue.
func (r *Router) Detach(sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.detach(sub)
}

func (r *Router) detach(sub *Subscriber) {
	if sub.closed {
		return
	}

	for _, t := range sub.topics.ToSlice() {
		r.remove(sub, t.(Topic))
	}
	sub.topics.Clear()
	sub.closed = true
	close(sub.send)
}

func (r *Router) remove(sub *Subscriber, topic Topic) {
	subs := r.topics[topic]
	if _, ok := subs[sub]; !ok {
		return
	}

	delete(subs, sub)
	if len(subs) == 0 {
		delete(r.topics, topic)
	}
	metrics.ActiveSubscriptions.Dec()
}

func (r *Router) detachAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, subs := range r.topics {
		for sub := range subs {
			r.detach(sub)
		}
	}
}

// Subscribers counts the current subscribers of topic.
func (r *Router) Subscribers(topic Topic) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.topics[topic])
}
