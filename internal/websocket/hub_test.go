// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/waypost/waypost/internal/database"
)

// startHub runs a hub for the duration of the test.
func startHub(t *testing.T) *Hub {
	t.Helper()

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("hub did not stop")
		}
	})
	return hub
}

// testClient registers a hub-only client without a real connection.
func testClient(t *testing.T, hub *Hub, userID uuid.UUID) *Client {
	t.Helper()

	client := &Client{
		id:     clientIDCounter.Add(1),
		userID: userID,
		hub:    hub,
		send:   make(chan Message, 64),
	}
	hub.Register <- client
	waitFor(t, func() bool { return hub.ClientCount() > 0 })
	return client
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func recvMessage(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestBroadcastReachesOwnersClients(t *testing.T) {
	hub := startHub(t)
	userID := uuid.New()

	c1 := testClient(t, hub, userID)
	c2 := testClient(t, hub, userID)

	stored := &database.TrackingEvent{ID: uuid.New(), Latitude: 40.7, Longitude: -74.0}
	hub.BroadcastEvent(userID, stored)

	for _, c := range []*Client{c1, c2} {
		msg := recvMessage(t, c)
		if msg.Type != MessageTypeLocation {
			t.Errorf("type = %q, want location", msg.Type)
		}
		if ev, ok := msg.Data.(*database.TrackingEvent); !ok || ev.ID != stored.ID {
			t.Errorf("payload = %#v, want the stored event", msg.Data)
		}
	}
}

func TestBroadcastScopedToUser(t *testing.T) {
	hub := startHub(t)

	alice := testClient(t, hub, uuid.New())
	bob := testClient(t, hub, uuid.New())

	hub.BroadcastEvent(alice.userID, &database.TrackingEvent{ID: uuid.New()})

	recvMessage(t, alice)

	select {
	case msg := <-bob.send:
		t.Errorf("bob received another user's event: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnregisterClosesSendChannel(t *testing.T) {
	hub := startHub(t)
	client := testClient(t, hub, uuid.New())

	hub.Unregister <- client
	waitFor(t, func() bool { return hub.ClientCount() == 0 })

	if _, ok := <-client.send; ok {
		t.Error("send channel still open after unregister")
	}
}

func TestShutdownClosesAllClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Serve(ctx) }()

	client := &Client{id: clientIDCounter.Add(1), userID: uuid.New(), hub: hub, send: make(chan Message, 1)}
	hub.Register <- client
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not exit")
	}

	if _, ok := <-client.send; ok {
		t.Error("client channel not closed on shutdown")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("client count = %d after shutdown", hub.ClientCount())
	}
}

func TestSlowClientDropped(t *testing.T) {
	hub := startHub(t)
	userID := uuid.New()

	// A zero-capacity buffer models a client that never drains.
	slow := &Client{id: clientIDCounter.Add(1), userID: userID, hub: hub, send: make(chan Message)}
	hub.Register <- slow
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	hub.BroadcastEvent(userID, &database.TrackingEvent{ID: uuid.New()})
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
}
