package notify

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisSinkPublishes(t *testing.T) {
	addr := os.Getenv("GUARDRAILS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("GUARDRAILS_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	sub := client.Subscribe(ctx, "guardrails.test")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	sink := NewRedisSink(addr, "", 0, "guardrails.test")
	defer sink.Close()
	require.NoError(t, sink.Ping(ctx))
	require.NoError(t, sink.Deliver(ctx, Event{ID: "evt-1", Type: EventValidationDecision, Target: "bot-7"}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
	require.Equal(t, "bot-7", ev.Target)
}
