package main

import (
	"context"
	"fmt"

	"github.com/lyzr/tufstash/common/events"
	rediscommon "github.com/lyzr/tufstash/common/redis"
)

// RedisSubscriber listens to Redis PubSub and forwards messages to Hub
type RedisSubscriber struct {
	redis *rediscommon.Client
	hub   *Hub
	log   Logger
}

// NewRedisSubscriber creates a new RedisSubscriber instance
func NewRedisSubscriber(redisClient *rediscommon.Client, hub *Hub, log Logger) *RedisSubscriber {
	return &RedisSubscriber{
		redis: redisClient,
		hub:   hub,
		log:   log,
	}
}

// Start listens to the transfer event channels of every short commit until ctx ends
func (s *RedisSubscriber) Start(ctx context.Context) error {
	pubsub := s.redis.PSubscribe(ctx, events.ChannelPattern)
	defer pubsub.Close()

	// Wait for confirmation that subscription was successful
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", events.ChannelPattern, err)
	}

	s.log.Info("redis subscription confirmed", "pattern", events.ChannelPattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("redis subscriber stopping")
			return nil

		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.forward(msg.Channel, msg.Payload)
		}
	}
}

// forward routes one payload to the clients of the channel's short commit
func (s *RedisSubscriber) forward(channel, payload string) {
	shortCommit, ok := events.ShortCommitFromChannel(channel)
	if !ok {
		s.log.Warn("invalid channel format", "channel", channel)
		return
	}

	s.log.Debug("received transfer event", "short_commit", shortCommit, "size", len(payload))
	s.hub.Broadcast(shortCommit, []byte(payload))
}
