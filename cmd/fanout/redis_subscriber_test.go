package main

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/tufstash/common/events"
	rediscommon "github.com/lyzr/tufstash/common/redis"
)

func connectTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}

	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisSubscriberForwardsToHub(t *testing.T) {
	raw := connectTestRedis(t)
	hub := startHub(t)

	ctx, cancel := context.WithCancel(context.Background())
	subscriber := NewRedisSubscriber(rediscommon.NewClient(raw, nopLogger{}), hub, nopLogger{})
	stopped := make(chan error, 1)
	go func() { stopped <- subscriber.Start(ctx) }()

	require.Eventually(t, func() bool {
		n, err := raw.PubSubNumPat(context.Background()).Result()
		return err == nil && n > 0
	}, 2*time.Second, 10*time.Millisecond)

	short := "abcdef123456"
	client := newTestClient(hub, short, 4)
	require.True(t, hub.Register(client))
	require.Eventually(t, func() bool { return hub.GetConnectionCount() == 1 }, time.Second, 5*time.Millisecond)

	// Malformed channels match the pattern but are not forwarded
	require.NoError(t, raw.Publish(context.Background(), "transfer:events:a:b", "ignored").Err())
	require.NoError(t, raw.Publish(context.Background(), events.ChannelFor(short), `{"type":"transfer.completed"}`).Err())

	select {
	case msg := <-client.send:
		assert.JSONEq(t, `{"type":"transfer.completed"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("event not forwarded")
	}
	assert.Empty(t, client.send)

	cancel()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}
