package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func runningHub(t *testing.T) (*Hub, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	hub := NewHub(context.Background(), zap.New(core))
	go hub.Run()
	t.Cleanup(hub.Shutdown)
	return hub, logs
}

func frame(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case data := <-c.send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		var ev Event
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
		return Event{}
	}
}

func TestHubWildcardDeliversOnce(t *testing.T) {
	hub, _ := runningHub(t)
	c := NewClient("c1", nil, hub)
	hub.Register(c, "post", Wildcard)
	assert.Equal(t, 1, hub.Subscribers("post"))
	assert.Equal(t, 1, hub.Subscribers(Wildcard))

	hub.Publish(&Event{Type: EventCreated, Model: "post", ID: 1})
	hub.Publish(&Event{Type: EventCreated, Model: "author", ID: 2})

	assert.Equal(t, int64(1), frame(t, c).ID)
	assert.Equal(t, int64(2), frame(t, c).ID)
	assert.Empty(t, c.send)
}

func TestHubSubscribeRequiresRegistration(t *testing.T) {
	hub, _ := runningHub(t)
	c := NewClient("c1", nil, hub)
	hub.Subscribe(c, "post")
	assert.Equal(t, 0, hub.Subscribers("post"))

	hub.Register(c)
	hub.Subscribe(c, "post")
	hub.Subscribe(c, "comment")
	assert.Equal(t, 1, hub.Subscribers("post"))

	hub.Unsubscribe(c, "post")
	assert.Equal(t, 0, hub.Subscribers("post"))

	hub.Unregister(c)
	assert.Equal(t, 0, hub.ClientCount())
	assert.Equal(t, 0, hub.Subscribers("comment"))
	assert.Error(t, c.ctx.Err(), "unregistered clients stop")
	assert.ErrorIs(t, c.SendJSON("pong", nil), ErrClientClosed)
}

func TestHubDropsForSlowClients(t *testing.T) {
	hub, logs := runningHub(t)
	c := NewClient("slow", nil, hub)
	hub.Register(c, "post")

	for i := 0; i < sendBuffer+1; i++ {
		hub.Publish(&Event{Type: EventUpdated, Model: "post", ID: int64(i)})
	}
	require.Eventually(t, func() bool {
		return logs.FilterMessage("feed client too slow, event dropped").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, c.send, sendBuffer)
}

func TestHubShutdown(t *testing.T) {
	hub, logs := runningHub(t)
	c := NewClient("c1", nil, hub)
	hub.Register(c, "post")

	hub.Shutdown()
	hub.Shutdown()
	assert.Error(t, c.ctx.Err())
	assert.Equal(t, 1, logs.FilterMessage("feed shutting down").Len())

	// calls after shutdown return without blocking
	assert.Equal(t, 0, hub.ClientCount())
	hub.Publish(&Event{Model: "post"})
}

func TestHandleMessage(t *testing.T) {
	hub, _ := runningHub(t)
	c := NewClient("c1", nil, hub)
	hub.Register(c)

	var got string
	hub.RegisterHandler("echo", func(ctx context.Context, client *Client, m *Message) error {
		got = string(m.Data)
		return nil
	})
	require.NoError(t, hub.HandleMessage(context.Background(), c, []byte(`{"type":"echo","data":{"a":1}}`)))
	assert.Equal(t, `{"a":1}`, got)

	assert.NoError(t, hub.HandleMessage(context.Background(), c, []byte(`{"type":"unknown"}`)))
	assert.Error(t, hub.HandleMessage(context.Background(), c, []byte(`not json`)))
}
