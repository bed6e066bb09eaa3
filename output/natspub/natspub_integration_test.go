//go:build integration

package natspub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/eventpublisher/natsclient"
)

func TestIntegration_CoreSubject(t *testing.T) {
	tc := natsclient.NewTestClient(t)
	ctx := context.Background()

	received := make(chan []byte, 1)
	require.NoError(t, tc.Client.Subscribe(ctx, "events.orders", func(_ context.Context, data []byte) {
		received <- data
	}))

	out, err := NewOutput(ctx, Config{Subject: "events.orders"}, tc.Client, nil)
	require.NoError(t, err)
	require.NoError(t, out.Write(ctx, []byte(`{"event":{"id":7}}`)))

	select {
	case data := <-received:
		assert.JSONEq(t, `{"event":{"id":7}}`, string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("event not received")
	}
}

func TestIntegration_JetStreamSubject(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx := context.Background()

	out, err := NewOutput(ctx, Config{Subject: "events.orders", JetStream: true, Stream: "EVENTS"}, tc.Client, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, out.Write(ctx, []byte(`{}`)))
	}

	js, err := tc.Client.JetStream()
	require.NoError(t, err)
	stream, err := js.Stream(ctx, "EVENTS")
	require.NoError(t, err)
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.State.Msgs)
}
