package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event types published on the feed
const (
	EventCreated = "record.created"
	EventUpdated = "record.updated"
	EventDeleted = "record.deleted"
)

// Event describes one stored change
type Event struct {
	Type  string    `json:"type"`
	Model string    `json:"model"`
	ID    int64     `json:"id"`
	Actor string    `json:"actor,omitempty"`
	Time  time.Time `json:"time"`
	// Fields lists the changed fields of an update
	Fields []string `json:"fields,omitempty"`
	// Record is the serialized record, foreign fields as ids
	Record json.RawMessage `json:"record,omitempty"`
}

// marshalMessage converts a Message to JSON bytes
func marshalMessage(message *Message) ([]byte, error) {
	if message.Payload != nil {
		data, err := json.Marshal(message.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		message.Data = data
	}
	return json.Marshal(message)
}

type subscription struct {
	Models []string `json:"models"`
}

func parseSubscription(message *Message) ([]string, error) {
	var req subscription
	if err := json.Unmarshal(message.Data, &req); err != nil {
		return nil, fmt.Errorf("invalid subscription: %w", err)
	}
	var models []string
	for _, m := range req.Models {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("at least one model is required")
	}
	return models, nil
}

// PingHandler answers ping messages
func PingHandler(ctx context.Context, client *Client, message *Message) error {
	return client.SendJSON("pong", map[string]interface{}{
		"timestamp": message.Data,
	})
}

// SubscribeHandler subscribes the client to the listed models
func SubscribeHandler(ctx context.Context, client *Client, message *Message) error {
	models, err := parseSubscription(message)
	if err != nil {
		return err
	}
	for _, m := range models {
		client.hub.Subscribe(client, m)
	}
	return client.SendJSON("subscribed", subscription{Models: models})
}

// UnsubscribeHandler removes the client from the listed models
func UnsubscribeHandler(ctx context.Context, client *Client, message *Message) error {
	models, err := parseSubscription(message)
	if err != nil {
		return err
	}
	for _, m := range models {
		client.hub.Unsubscribe(client, m)
	}
	return client.SendJSON("unsubscribed", subscription{Models: models})
}
