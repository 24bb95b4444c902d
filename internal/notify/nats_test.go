package notify

import (
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func startTestNATS(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Port:   -1, // random available port
		NoLog:  true,
		NoSigs: true,
	}
	ns, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("create test NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("test NATS server failed to start")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestNATSSinkPublishesOnTypedSubject(t *testing.T) {
	ns := startTestNATS(t)

	listener, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer listener.Close()
	msgs := make(chan *nats.Msg, 4)
	_, err = listener.ChanSubscribe("guardrails.>", msgs)
	require.NoError(t, err)
	require.NoError(t, listener.Flush())

	sink, err := DialNATS(ns.ClientURL(), "guardrails.")
	require.NoError(t, err)

	hub := NewHub(HubOptions{})
	hub.AddSink(sink)
	hub.Publish(Event{Type: EventUrgentValidation, Payload: map[string]any{"id": "val-1", "priority": 95}})
	hub.Close()

	select {
	case msg := <-msgs:
		require.Equal(t, "guardrails.urgent_validation_required", msg.Subject)
		var ev Event
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		require.Equal(t, "val-1", ev.Payload["id"])
		require.EqualValues(t, 95, ev.Payload["priority"])
	case <-time.After(3 * time.Second):
		t.Fatal("no message received")
	}
}
