// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package uplink

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/waypost/waypost/internal/geo"
)

// ingestStub records pushed samples and serves a configurable status.
type ingestStub struct {
	mu       sync.Mutex
	status   int
	received []geo.Sample
	auth     []string
}

func (s *ingestStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.auth = append(s.auth, r.Header.Get("Authorization"))
		var sample geo.Sample
		if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if s.status != http.StatusOK {
			http.Error(w, "nope", s.status)
			return
		}
		s.received = append(s.received, sample)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}
}

func (s *ingestStub) setStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = code
}

func (s *ingestStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func (s *ingestStub) lastAuth() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.auth) == 0 {
		return ""
	}
	return s.auth[len(s.auth)-1]
}

func newStub(t *testing.T) (*ingestStub, *httptest.Server) {
	t.Helper()
	stub := &ingestStub{status: http.StatusOK}
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)
	return stub, srv
}

func TestClientPushSuccess(t *testing.T) {
	stub, srv := newStub(t)
	client := NewClient(srv.URL, "wp_pat_test")

	err := client.Push(context.Background(), spoolSample(40.7))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if stub.count() != 1 {
		t.Fatalf("server received %d samples", stub.count())
	}
	if got := stub.lastAuth(); got != "Bearer wp_pat_test" {
		t.Errorf("Authorization = %q", got)
	}
	stub.mu.Lock()
	sample := stub.received[0]
	stub.mu.Unlock()
	if sample.Latitude != 40.7 || sample.Source != geo.SourcePrecise {
		t.Errorf("server saw %+v", sample)
	}
}

func TestClientPushRejection(t *testing.T) {
	stub, srv := newStub(t)
	stub.setStatus(http.StatusBadRequest)
	client := NewClient(srv.URL, "tok")

	err := client.Push(context.Background(), spoolSample(40.7))
	if !IsRejected(err) {
		t.Fatalf("err = %v, want rejection", err)
	}
}

func TestClientPushServerError(t *testing.T) {
	stub, srv := newStub(t)
	stub.setStatus(http.StatusInternalServerError)
	client := NewClient(srv.URL, "tok")

	err := client.Push(context.Background(), spoolSample(40.7))
	if err == nil || IsRejected(err) {
		t.Fatalf("err = %v, want a transient failure", err)
	}
}

func startPusher(t *testing.T, p *Pusher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPusherDeliversQueuedSamples(t *testing.T) {
	stub, srv := newStub(t)
	p := NewPusher(NewClient(srv.URL, "tok"), nil, time.Millisecond, 10)
	startPusher(t, p)

	p.Push(spoolSample(40.0))
	p.Push(spoolSample(41.0))

	waitFor(t, "both samples delivered", func() bool { return stub.count() == 2 })
}

func TestPusherSpoolsOnTransientFailure(t *testing.T) {
	stub, srv := newStub(t)
	stub.setStatus(http.StatusInternalServerError)

	spool := testSpool(t)
	p := NewPusher(NewClient(srv.URL, "tok"), spool, time.Millisecond, 10)
	startPusher(t, p)

	p.Push(spoolSample(40.0))
	waitFor(t, "sample spooled", func() bool { return spool.Depth() == 1 })
	if stub.count() != 0 {
		t.Errorf("server accepted %d samples while failing", stub.count())
	}

	// Recovery: a drain pass replays the spool.
	stub.setStatus(http.StatusOK)
	p.drainSpool(context.Background())
	if stub.count() != 1 {
		t.Errorf("server received %d samples after recovery, want 1", stub.count())
	}
	if spool.Depth() != 0 {
		t.Errorf("depth = %d after recovery, want 0", spool.Depth())
	}
}

func TestPusherDropsRejectedWithoutSpooling(t *testing.T) {
	stub, srv := newStub(t)
	stub.setStatus(http.StatusUnprocessableEntity)

	spool := testSpool(t)
	p := NewPusher(NewClient(srv.URL, "tok"), spool, time.Millisecond, 10)
	startPusher(t, p)

	p.Push(spoolSample(40.0))
	waitFor(t, "rejection handled", func() bool {
		stub.mu.Lock()
		defer stub.mu.Unlock()
		return len(stub.auth) == 1
	})

	// Give the pusher a moment to (wrongly) spool before asserting.
	time.Sleep(20 * time.Millisecond)
	if spool.Depth() != 0 {
		t.Errorf("rejected sample was spooled, depth = %d", spool.Depth())
	}
}
