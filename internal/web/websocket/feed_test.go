package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startFeed(t *testing.T, config *Config) (*Hub, string) {
	t.Helper()
	hub := NewHub(context.Background(), nil)
	go hub.Run()
	t.Cleanup(hub.Shutdown)

	srv := httptest.NewServer(NewUpgrader(config, hub))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

func TestFeedDeliversSubscribedModels(t *testing.T) {
	hub, url := startFeed(t, nil)
	posts := dial(t, url+"?models=post")
	all := dial(t, url+"?models=*")
	waitFor(t, func() bool { return hub.ClientCount() == 2 })

	hub.Publish(&Event{Type: EventCreated, Model: "author", ID: 1})
	hub.Publish(&Event{Type: EventUpdated, Model: "post", ID: 7, Fields: []string{"title"}})

	msg := readMessage(t, posts)
	assert.Equal(t, EventUpdated, msg.Type)
	var ev Event
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "post", ev.Model)
	assert.Equal(t, int64(7), ev.ID)
	assert.Equal(t, []string{"title"}, ev.Fields)

	first := readMessage(t, all)
	second := readMessage(t, all)
	assert.Equal(t, EventCreated, first.Type)
	assert.Equal(t, EventUpdated, second.Type)
}

func TestFeedSubscribeMessages(t *testing.T) {
	hub, url := startFeed(t, nil)
	conn := dial(t, url)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "subscribe",
		"data": map[string]interface{}{"models": []string{"comment"}},
	}))
	assert.Equal(t, "subscribed", readMessage(t, conn).Type)
	assert.Equal(t, 1, hub.Subscribers("comment"))

	hub.Publish(&Event{Type: EventDeleted, Model: "comment", ID: 3})
	assert.Equal(t, EventDeleted, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "unsubscribe",
		"data": map[string]interface{}{"models": []string{"comment"}},
	}))
	assert.Equal(t, "unsubscribed", readMessage(t, conn).Type)
	assert.Equal(t, 0, hub.Subscribers("comment"))

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "subscribe",
		"data": map[string]interface{}{"models": []string{}},
	}))
	assert.Equal(t, "error", readMessage(t, conn).Type)
}

func TestFeedAuthentication(t *testing.T) {
	config := DefaultConfig()
	config.Authenticate = func(token string) (string, error) {
		if token != "good" {
			return "", errors.New("bad token")
		}
		return "ada", nil
	}
	hub, url := startFeed(t, config)

	_, resp, err := websocket.DefaultDialer.Dial(url+"?token=bad", nil)
	require.Error(t, err)
	assert.Equal(t, 401, resp.StatusCode)

	dial(t, url+"?token=good")
	waitFor(t, func() bool { return hub.ClientCount() == 1 })
}

func TestFeedClientDisconnect(t *testing.T) {
	hub, url := startFeed(t, nil)
	conn := dial(t, url+"?models=post")
	waitFor(t, func() bool { return hub.Subscribers("post") == 1 })

	conn.Close()
	waitFor(t, func() bool { return hub.ClientCount() == 0 && hub.Subscribers("post") == 0 })
}
