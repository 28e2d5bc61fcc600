package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const relayBuffer = 256

// RedisRelay forwards local presence events to other service instances over
// a Redis pub/sub channel and reports events that originated elsewhere.
type RedisRelay struct {
	client     *redis.Client
	channel    string
	instanceID string
	logger     *zap.Logger
	out        chan Event
}

type relayMessage struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// NewRedisRelay builds a relay. instanceID must be unique per process.
func NewRedisRelay(client *redis.Client, channel, instanceID string, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		logger:     logger,
		out:        make(chan Event, relayBuffer),
	}
}

// Forward queues a local event for publication. It never blocks the caller;
// when the queue is full the event is dropped since remote instances
// converge on the next change or on their observers' reconnect pull.
func (r *RedisRelay) Forward(_ context.Context, event Event) error {
	select {
	case r.out <- event:
	default:
		r.logger.Warn("redis relay queue full; dropping event", zap.String("event_id", event.ID))
	}
	return nil
}

// Run publishes queued events and delivers remote ones to onRemote until ctx ends.
func (r *RedisRelay) Run(ctx context.Context, onRemote func(Event)) {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	incoming := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-r.out:
			r.publish(ctx, event)
		case msg, ok := <-incoming:
			if !ok {
				return
			}
			if event, remote := r.decode(msg.Payload); remote {
				onRemote(event)
			}
		}
	}
}

func (r *RedisRelay) publish(ctx context.Context, event Event) {
	payload, err := r.encode(event)
	if err != nil {
		r.logger.Error("encode relay event", zap.Error(err))
		return
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("publish relay event", zap.String("event_id", event.ID), zap.Error(err))
	}
}

func (r *RedisRelay) encode(event Event) ([]byte, error) {
	return json.Marshal(relayMessage{Origin: r.instanceID, Event: event})
}

// decode returns the event and whether it came from another instance.
func (r *RedisRelay) decode(payload string) (Event, bool) {
	var msg relayMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.logger.Warn("malformed relay message", zap.Error(err))
		return Event{}, false
	}
	if msg.Origin == r.instanceID {
		return Event{}, false
	}
	return msg.Event, true
}
