package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/pubcontrol/internal/testutil"
)

// TestIntegrationBusClient publishes through a real Mosquitto broker with
// subscriber gating driven by the control topic.
func TestIntegrationBusClient(t *testing.T) {
	testutil.RequireDocker(t)
	ctx := context.Background()
	broker, cleanup, err := testutil.StartMosquitto(ctx)
	require.NoError(t, err)
	defer cleanup()

	c, err := NewBusClient(Config{QoS: 1}, BusOptions{PubURI: broker, RequireSubscribers: true})
	require.NoError(t, err)
	defer c.Close()

	sub := paho.NewClient(paho.NewClientOptions().AddBroker(broker).SetClientID("it-sub"))
	require.NoError(t, wait(sub.Connect(), 5*time.Second))
	defer sub.Disconnect(100)

	got := make(chan map[string]any, 1)
	require.NoError(t, wait(sub.Subscribe("news", 1, func(_ paho.Client, m paho.Message) {
		var body map[string]any
		if json.Unmarshal(m.Payload(), &body) == nil {
			got <- body
		}
	}), 5*time.Second))
	require.NoError(t, wait(sub.Publish("pubcontrol/subscriptions", 1, false, []byte(`{"type":"sub","channel":"news"}`)), 5*time.Second))

	require.Eventually(t, func() bool { return c.SubscriptionMonitor().Contains("news") }, 5*time.Second, 50*time.Millisecond)
	require.NoError(t, c.Publish(ctx, "news", busItem(t), true, nil))

	select {
	case body := <-got:
		assert.Equal(t, "hi", body["data"])
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}
