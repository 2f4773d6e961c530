package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/eashman/realtime-chat/internal/metrics"
)

const DefaultRelayChannel = "realtime-chat:events"

// relayEnvelope carries either a frame or, with Revoke set, the actors still
// allowed on the topic.
type relayEnvelope struct {
	Origin  string          `json:"origin"`
	Topic   string          `json:"topic"`
	Frame   json.RawMessage `json:"frame,omitempty"`
	Revoke  bool            `json:"revoke,omitempty"`
	Allowed []int64         `json:"allowed,omitempty"`
}

var _ Relay = (*RedisRelay)(nil)

// RedisRelay bridges routers of several instances over Redis Pub/Sub. Frames
// carry the publishing instance's origin so an instance ignores its own echo.
type RedisRelay struct {
	Origin  string
	Channel string

	client *redis.Client
	router *Router
	out    chan relayEnvelope
}

// NewRedisRelay wires a relay into router. Call it before router.Run.
func NewRedisRelay(client *redis.Client, router *Router, bufferSize int) *RedisRelay {
	if bufferSize <= 0 {
		bufferSize = DefaultQueueSize
	}

	r := &RedisRelay{
		Origin:  uuid.NewString(),
		Channel: DefaultRelayChannel,
		client:  client,
		router:  router,
		out:     make(chan relayEnvelope, bufferSize),
	}
	router.SetRelay(r)
	return r
}

func (r *RedisRelay) Forward(topic Topic, frame []byte) {
	r.send(relayEnvelope{Origin: r.Origin, Topic: topic.String(), Frame: frame})
}

func (r *RedisRelay) ForwardRevoke(topic Topic, allowed []int64) {
	r.send(relayEnvelope{Origin: r.Origin, Topic: topic.String(), Revoke: true, Allowed: allowed})
}

func (r *RedisRelay) send(env relayEnvelope) {
	select {
	case r.out <- env:
	default:
		metrics.RelayErrors.WithLabelValues("overflow").Inc()
		zap.L().Warn("relay queue full, event stays local", zap.String("topic", env.Topic))
	}
}

// Run subscribes to the relay channel and pumps frames both ways until ctx is
// done. It only fails if the initial subscription does.
func (r *RedisRelay) Run(ctx context.Context) (err error) {
	pubsub := r.client.Subscribe(ctx, r.Channel)
	defer func() { _ = pubsub.Close() }()

	// Wait for the subscription to be confirmed so no foreign frame published
	// after Run returns control is missed.
	if _, err = pubsub.Receive(ctx); err != nil {
		err = fmt.Errorf("failed to subscribe to %s: %w", r.Channel, err)
		return
	}

	incoming := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-r.out:
			r.publish(ctx, env)
		case msg, ok := <-incoming:
			if !ok {
				return
			}
			r.receive(msg.Payload)
		}
	}
}

func (r *RedisRelay) publish(ctx context.Context, env relayEnvelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		metrics.RelayErrors.WithLabelValues("encode").Inc()
		return
	}

	if err = r.client.Publish(ctx, r.Channel, payload).Err(); err != nil {
		metrics.RelayErrors.WithLabelValues("publish").Inc()
		zap.L().Error("failed to relay event", zap.String("topic", env.Topic), zap.Error(err))
	}
}

func (r *RedisRelay) receive(payload string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		metrics.RelayErrors.WithLabelValues("decode").Inc()
		zap.L().Warn("ignoring malformed relay frame", zap.Error(err))
		return
	}
	if env.Origin == r.Origin {
		return
	}

	topic, err := ParseTopic(env.Topic)
	if err != nil {
		metrics.RelayErrors.WithLabelValues("decode").Inc()
		zap.L().Warn("ignoring relay frame with bad topic", zap.Error(err))
		return
	}
	if env.Revoke {
		r.router.revoke(topic, env.Allowed)
		return
	}
	r.router.Inject(topic, env.Frame)
}
