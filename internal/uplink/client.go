// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package uplink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/waypost/waypost/internal/geo"
)

const (
	clientTimeout   = 10 * time.Second
	maxErrorBodyLen = 512
)

// RejectedError reports a sample the server refused. Retrying the same
// payload would fail again, so the pusher drops it instead of spooling.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("server rejected sample: status %d: %s", e.Status, e.Message)
}

// IsRejected reports whether err is a permanent server-side rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// Client posts samples to the server's ingestion endpoint using a
// personal access token.
type Client struct {
	url   string
	token string
	http  *http.Client
}

// NewClient creates a client for the given ingestion endpoint URL.
func NewClient(url, token string) *Client {
	return &Client{
		url:   url,
		token: token,
		http:  &http.Client{Timeout: clientTimeout},
	}
}

// Push delivers one sample. A nil return means the server accepted it.
// A RejectedError means the server refused it permanently; any other
// error is transient and worth retrying.
func (c *Client) Push(ctx context.Context, sample geo.Sample) error {
	body, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to encode sample: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &RejectedError{Status: resp.StatusCode, Message: string(msg)}
	}
	return fmt.Errorf("push failed: status %d: %s", resp.StatusCode, msg)
}
