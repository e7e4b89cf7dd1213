package events

import (
	"context"
	"time"

	rediscommon "github.com/lyzr/tufstash/common/redis"
)

// RedisPublisher publishes events on a per-short-commit Redis channel and
// keeps the latest snapshot of each artifact for late subscribers
type RedisPublisher struct {
	redis    *rediscommon.Client
	log      Logger
	stateTTL time.Duration
	timeout  time.Duration
}

// NewRedisPublisher creates a publisher. Snapshots expire after stateTTL,
// which should match the transfer grace window.
func NewRedisPublisher(client *rediscommon.Client, stateTTL time.Duration, log Logger) *RedisPublisher {
	return &RedisPublisher{
		redis:    client,
		log:      log,
		stateTTL: stateTTL,
		timeout:  2 * time.Second,
	}
}

// Publish implements Publisher
func (p *RedisPublisher) Publish(ctx context.Context, evt Event) {
	data, err := Encode(evt)
	if err != nil {
		p.log.Warn("dropping transfer event", "type", evt.Type, "error", err)
		return
	}

	// Events outlive the request that triggered them
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	short := evt.Transfer.ShortCommit
	pipe := p.redis.NewPipeline()
	if p.stateTTL > 0 {
		pipe.SetWithExpiry(ctx, StateKey(short, evt.Transfer.Role), string(data), p.stateTTL)
	}
	pipe.PublishEvent(ctx, ChannelFor(short), string(data))

	if err := pipe.Exec(ctx); err != nil {
		p.log.Warn("failed to publish transfer event",
			"type", evt.Type,
			"short_commit", short,
			"error", err,
		)
	}
}
