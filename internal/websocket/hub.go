// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

// Package websocket streams freshly ingested location events to
// connected browsers. Fan-out is scoped per user: a client only ever
// receives events belonging to the account it authenticated as.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/waypost/waypost/internal/database"
	"github.com/waypost/waypost/internal/logging"
	"github.com/waypost/waypost/internal/metrics"
)

// Message types for the live stream.
const (
	MessageTypeLocation = "location"
	MessageTypePing     = "ping"
	MessageTypePong     = "pong"
)

// Message is one frame on the live stream.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// event pairs a message with the user it is addressed to.
type event struct {
	userID  uuid.UUID
	message Message
}

// Hub maintains the set of connected clients and fans events out to
// the owning user's connections.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan event
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a hub. Call Serve to run it.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan event, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Serve runs the hub until ctx is done, then closes every client.
// Serve implements suture.Service.
//
// Lifecycle events take priority over broadcasts so client state is
// consistent before any message is delivered.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.register(client)
			continue
		case client := <-h.Unregister:
			h.unregister(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

// BroadcastEvent pushes a stored event to the owning user's clients.
// Non-blocking; the frame is dropped if the hub is saturated.
func (h *Hub) BroadcastEvent(userID uuid.UUID, stored *database.TrackingEvent) {
	ev := event{
		userID:  userID,
		message: Message{Type: MessageTypeLocation, Data: stored},
	}
	select {
	case h.broadcast <- ev:
	default:
		logging.Warn().Str("user_id", userID.String()).Msg("live stream saturated, frame dropped")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.LiveConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("live stream client connected")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.LiveConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("live stream client disconnected")
}

// deliver sends an event to the addressed user's clients in stable ID
// order. Clients with a full send buffer are dropped.
func (h *Hub) deliver(ev event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if client.userID == ev.userID {
			clients = append(clients, client)
		}
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- ev.message:
		default:
			toRemove = append(toRemove, client)
		}
	}
	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
	if len(toRemove) > 0 {
		metrics.LiveConnections.Set(float64(len(h.clients)))
	}
}

// shutdown closes every client in stable ID order.
func (h *Hub) shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	metrics.LiveConnections.Set(0)
	logging.Info().
		Str("component", "live-hub").
		Int("clients_closed", len(clients)).
		Msg("live stream hub stopped")
}
