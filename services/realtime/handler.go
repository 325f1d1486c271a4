package realtime

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// MaxWebSocketClients is the default connection cap
const MaxWebSocketClients = 100

// Handler upgrades HTTP requests and binds each connection to one subscription key
type Handler struct {
	registry   *Registry
	upgrader   websocket.Upgrader
	maxClients int
	logger     logrus.FieldLogger
}

// NewHandler creates a WebSocket handler. maxClients <= 0 uses MaxWebSocketClients.
func NewHandler(registry *Registry, maxClients int, logger logrus.FieldLogger) *Handler {
	if maxClients <= 0 {
		maxClients = MaxWebSocketClients
	}
	return &Handler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		maxClients: maxClients,
		logger:     logger,
	}
}

// Serve runs one connection subscribed to key and blocks until it closes
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, key string) {
	if h.registry.ConnectionCount("") >= h.maxClients {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		h.logger.WithField("max_clients", h.maxClients).Warn("websocket client rejected: max clients reached")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade error")
		return
	}

	client := newClient(conn, h.logger)
	go client.writePump()

	h.registry.Subscribe(client, key)
	client.readPump(func(message string) {
		h.handleMessage(client, message)
	})

	h.registry.Disconnect(client)
	client.Close()
}

// handleMessage answers the only client command, "ping"
func (h *Handler) handleMessage(client *Client, message string) {
	var reply string
	if message == "ping" {
		reply = "pong"
	} else {
		reply = fmt.Sprintf("Error: unsupported message %q, only \"ping\" is accepted", message)
	}
	if err := client.Send([]byte(reply)); err != nil {
		h.logger.WithError(err).WithField("conn", client.ID()).Debug("failed to reply to client message")
	}
}
