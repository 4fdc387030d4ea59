//go:build integration
// +build integration

package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/marshallshelly/pebble-integrity/pkg/events"
	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

func TestNATSPublisher_RoundTrip(t *testing.T) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2-alpine",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start NATS container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.PortEndpoint(ctx, "4222/tcp", "nats")
	require.NoError(t, err)

	pub, err := events.ConnectNATS(endpoint, "it")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	received := make(chan events.Event, 4)
	sub, err := pub.Subscribe(func(ev events.Event) { received <- ev })
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	rec := store.Record{Kind: "users", Key: "1", Fields: store.Fields{"id": int64(1)}, Version: 1}
	require.NoError(t, pub.Publish(ctx, "m-1", []store.Change{
		{Action: store.ActionInsert, Kind: "users", Key: "1", After: &rec},
	}))

	select {
	case ev := <-received:
		assert.Equal(t, "m-1", ev.Mutation)
		assert.Equal(t, store.ActionInsert, ev.Action)
		assert.Equal(t, "users", ev.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("event not received")
	}
}
