package websocket

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Authenticator resolves a bearer token to an actor
type Authenticator func(token string) (actor string, err error)

// Config holds upgrade configuration
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool

	// Authenticate is required when set; connections without a valid token are refused
	Authenticate Authenticator
}

// DefaultConfig returns a configuration accepting any origin without authentication
func DefaultConfig() *Config {
	return &Config{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Upgrader upgrades HTTP requests to feed connections
type Upgrader struct {
	config   *Config
	upgrader *websocket.Upgrader
	hub      *Hub
}

// NewUpgrader creates an upgrader registering clients with hub
func NewUpgrader(config *Config, hub *Hub) *Upgrader {
	if config == nil {
		config = DefaultConfig()
	}
	return &Upgrader{
		config: config,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		hub: hub,
	}
}

// token reads the token query parameter or a bearer Authorization header
func token(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// ServeHTTP authenticates and upgrades the request. The models query
// parameter holds the initial comma separated subscriptions.
func (u *Upgrader) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var actor string
	if u.config.Authenticate != nil {
		var err error
		actor, err = u.config.Authenticate(token(r))
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		u.hub.logger.Debug("feed upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), conn, u.hub)
	client.Actor = actor
	var models []string
	for _, m := range strings.Split(r.URL.Query().Get("models"), ",") {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	u.hub.Register(client, models...)
	go client.WritePump()
	go client.ReadPump()
}
