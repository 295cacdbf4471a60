// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"

	"github.com/waypost/waypost/internal/auth"
	"github.com/waypost/waypost/internal/database"
	"github.com/waypost/waypost/internal/geo"
	"github.com/waypost/waypost/internal/logging"
	"github.com/waypost/waypost/internal/metrics"
	"github.com/waypost/waypost/internal/validation"
	"github.com/waypost/waypost/internal/websocket"
)

// maxIngestBody bounds ingestion payload size.
const maxIngestBody = 16 * 1024

// Store is the persistence surface the handlers need.
type Store interface {
	Ping(ctx context.Context) error
	InsertEvent(ctx context.Context, userID uuid.UUID, sample geo.Sample) (*database.TrackingEvent, error)
	FilteredEvents(ctx context.Context, userID uuid.UUID, filter database.EventFilter, limit int) ([]database.TrackingEvent, error)
	TokensByUser(ctx context.Context, userID uuid.UUID) ([]database.AccessToken, error)
	DeleteToken(ctx context.Context, userID uuid.UUID, id string) error
}

// Handler implements the HTTP endpoints.
type Handler struct {
	store    Store
	hub      *websocket.Hub
	tokens   *auth.TokenManager
	upgrader gorillaws.Upgrader
}

// NewHandler creates the endpoint handler. The hub may be nil when the
// live stream is not wired, for example in the agent's loopback tests.
func NewHandler(store Store, hub *websocket.Hub, tokens *auth.TokenManager) *Handler {
	return &Handler{
		store:  store,
		hub:    hub,
		tokens: tokens,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// trackRequest is the ingestion payload.
type trackRequest struct {
	Lat      float64  `json:"lat" validate:"latitude"`
	Lng      float64  `json:"lng" validate:"longitude"`
	Source   string   `json:"source" validate:"required,oneof=precise coarse"`
	Accuracy *float64 `json:"accuracy" validate:"omitempty,gte=0"`
	Label    string   `json:"label"`
}

// TrackCreate handles POST /api/v1/track. It validates the sample,
// stores it for the authenticated user, and pushes it to the user's
// live stream.
func (h *Handler) TrackCreate(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	var req trackRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err := decoder.Decode(&req); err != nil {
		metrics.IngestRejected.WithLabelValues("malformed").Inc()
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	// JSON numbers cannot encode NaN or Inf, but a defensive check
	// keeps garbage out of the history regardless of transport.
	if !isFinite(req.Lat) || !isFinite(req.Lng) || (req.Accuracy != nil && !isFinite(*req.Accuracy)) {
		metrics.IngestRejected.WithLabelValues("non_finite").Inc()
		respondError(w, http.StatusBadRequest, "coordinates must be finite numbers")
		return
	}

	if verr := validation.ValidateStruct(&req); verr != nil {
		metrics.IngestRejected.WithLabelValues("invalid").Inc()
		respondError(w, http.StatusBadRequest, verr.Error())
		return
	}

	sample := geo.Sample{
		Latitude:   req.Lat,
		Longitude:  req.Lng,
		Accuracy:   req.Accuracy,
		CapturedAt: time.Now().UTC(),
		Source:     geo.Source(req.Source),
		Label:      req.Label,
	}
	if err := sample.Validate(); err != nil {
		metrics.IngestRejected.WithLabelValues("invalid").Inc()
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	stored, err := h.store.InsertEvent(r.Context(), user.ID, sample)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("failed to store tracking event")
		respondError(w, http.StatusInternalServerError, "failed to store event")
		return
	}

	metrics.SamplesIngested.WithLabelValues(req.Source).Inc()
	if h.hub != nil {
		h.hub.BroadcastEvent(user.ID, stored)
	}

	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// TrackHistory handles GET /api/v1/track/history. Events come back
// newest first, capped at 20, optionally narrowed by since, until
// (RFC 3339), and source query parameters.
func (h *Handler) TrackHistory(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	limit := database.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	var filter database.EventFilter
	if raw := r.URL.Query().Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = &ts
	}
	if raw := r.URL.Query().Get("until"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "until must be an RFC 3339 timestamp")
			return
		}
		filter.Until = &ts
	}
	if raw := r.URL.Query().Get("source"); raw != "" {
		src := geo.Source(raw)
		if src != geo.SourcePrecise && src != geo.SourceCoarse {
			respondError(w, http.StatusBadRequest, "source must be precise or coarse")
			return
		}
		filter.Source = src
	}

	events, err := h.store.FilteredEvents(r.Context(), user.ID, filter, limit)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("failed to query history")
		respondError(w, http.StatusInternalServerError, "failed to query history")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"items": events})
}

// TrackLive handles GET /api/v1/track/live by upgrading to a WebSocket
// scoped to the authenticated user.
func (h *Handler) TrackLive(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := websocket.NewClient(h.hub, conn, user.ID)
	h.hub.Register <- client
	client.Start()
}

// Me handles GET /api/v1/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, auth.UserFrom(r.Context()))
}

// tokenCreateRequest names a new personal access token.
type tokenCreateRequest struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
}

// TokenCreate handles POST /api/v1/tokens. The plaintext token appears
// only in this response.
func (h *Handler) TokenCreate(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	var req tokenCreateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondError(w, http.StatusBadRequest, verr.Error())
		return
	}

	token, plaintext, err := h.tokens.Create(r.Context(), user.ID, req.Name)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("failed to create access token")
		respondError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"token":     token,
		"plaintext": plaintext,
	})
}

// TokenList handles GET /api/v1/tokens.
func (h *Handler) TokenList(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	tokens, err := h.store.TokensByUser(r.Context(), user.ID)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("failed to list access tokens")
		respondError(w, http.StatusInternalServerError, "failed to list tokens")
		return
	}
	if tokens == nil {
		tokens = []database.AccessToken{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": tokens})
}

// TokenDelete handles DELETE /api/v1/tokens/{id}.
func (h *Handler) TokenDelete(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())
	id := chi.URLParam(r, "id")

	err := h.store.DeleteToken(r.Context(), user.ID, id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "token not found")
		return
	}
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("failed to delete access token")
		respondError(w, http.StatusInternalServerError, "failed to delete token")
		return
	}
	h.tokens.Invalidate(id)
	w.WriteHeader(http.StatusNoContent)
}

// HealthLive handles GET /api/v1/health/live.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady handles GET /api/v1/health/ready. Readiness requires a
// reachable database.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  "database unreachable",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
