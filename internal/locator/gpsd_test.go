// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package locator

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/waypost/waypost/internal/geo"
)

func TestGPSDSecure(t *testing.T) {
	tests := []struct {
		name    string
		address string
		tls     bool
		want    bool
	}{
		{"loopback ip", "127.0.0.1:2947", false, true},
		{"localhost", "localhost:2947", false, true},
		{"ipv6 loopback", "[::1]:2947", false, true},
		{"remote plain", "gps.example.com:2947", false, false},
		{"remote tls", "gps.example.com:2948", true, true},
		{"missing port", "localhost", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewGPSDSensor(GPSDConfig{Address: tt.address, TLS: tt.tls})
			if got := s.Secure(); got != tt.want {
				t.Errorf("Secure() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseTPV(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantOK   bool
		wantErr  Kind
		wantLat  float64
		wantAcc  float64
		checkAcc bool
	}{
		{
			name:     "full 3d fix with eph",
			line:     `{"class":"TPV","mode":3,"time":"2026-08-30T12:00:00Z","lat":40.7,"lon":-74.0,"eph":8}`,
			wantOK:   true,
			wantLat:  40.7,
			wantAcc:  8,
			checkAcc: true,
		},
		{
			name:     "2d fix with per-axis estimates",
			line:     `{"class":"TPV","mode":2,"lat":51.5,"lon":-0.12,"epx":12,"epy":20}`,
			wantOK:   true,
			wantLat:  51.5,
			wantAcc:  20,
			checkAcc: true,
		},
		{
			name:   "no fix yet",
			line:   `{"class":"TPV","mode":1}`,
			wantOK: false,
		},
		{
			name:   "sky message ignored",
			line:   `{"class":"SKY","hdop":1.2}`,
			wantOK: false,
		},
		{
			name:    "permission error",
			line:    `{"class":"ERROR","message":"can't open device: Permission denied"}`,
			wantErr: KindPermissionDenied,
		},
		{
			name:    "other error",
			line:    `{"class":"ERROR","message":"no devices attached"}`,
			wantErr: KindPositionUnavailable,
		},
		{
			name:   "non-json banner skipped",
			line:   `gpsd: banner text`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sample, ok, err := parseTPV([]byte(tt.line))

			if tt.wantErr != "" {
				if KindOf(err) != tt.wantErr {
					t.Fatalf("error kind = %v, want %v", KindOf(err), tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}

			if sample.Latitude != tt.wantLat {
				t.Errorf("lat = %v, want %v", sample.Latitude, tt.wantLat)
			}
			if sample.Source != geo.SourcePrecise {
				t.Errorf("source = %v, want precise", sample.Source)
			}
			if tt.checkAcc {
				if acc, present := sample.AccuracyMeters(); !present || acc != tt.wantAcc {
					t.Errorf("accuracy = %v,%v, want %v", acc, present, tt.wantAcc)
				}
			}
		})
	}
}

// startStubGPSD runs a minimal gpsd that serves the given lines to every
// connection after receiving the WATCH command.
func startStubGPSD(t *testing.T, lines ...string) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				reader := bufio.NewReader(c)
				if _, err := reader.ReadString('\n'); err != nil {
					return
				}
				for _, line := range lines {
					if _, err := c.Write([]byte(line + "\n")); err != nil {
						return
					}
				}
				// Hold the connection open briefly so the client reads.
				time.Sleep(100 * time.Millisecond)
			}(conn)
		}
	}()

	return ln.Addr().String()
}

func TestGPSDReadOnce(t *testing.T) {
	addr := startStubGPSD(t,
		`{"class":"VERSION","release":"3.25"}`,
		`{"class":"TPV","mode":1}`,
		`{"class":"TPV","mode":3,"lat":40.7,"lon":-74.0,"eph":8}`,
	)

	sensor := NewGPSDSensor(GPSDConfig{Address: addr})
	sample, err := sensor.ReadOnce(context.Background(), ReadOnceOptions())
	if err != nil {
		t.Fatalf("ReadOnce failed: %v", err)
	}
	if sample.Latitude != 40.7 || sample.Longitude != -74.0 {
		t.Errorf("coordinates = %v,%v, want 40.7,-74.0", sample.Latitude, sample.Longitude)
	}
}

func TestGPSDReadOnceNoFix(t *testing.T) {
	addr := startStubGPSD(t, `{"class":"TPV","mode":1}`)

	sensor := NewGPSDSensor(GPSDConfig{Address: addr})
	_, err := sensor.ReadOnce(context.Background(), ReadOnceOptions())
	if err == nil {
		t.Fatal("expected error when stream ends without a fix")
	}
	if k := KindOf(err); k != KindPositionUnavailable {
		t.Errorf("kind = %v, want position_unavailable", k)
	}
}

func TestGPSDReadOnceUnreachable(t *testing.T) {
	// Grab a port and close it so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	sensor := NewGPSDSensor(GPSDConfig{Address: addr, DialTimeout: time.Second})
	_, err = sensor.ReadOnce(context.Background(), ReadOnceOptions())
	if KindOf(err) != KindPositionUnavailable {
		t.Errorf("kind = %v, want position_unavailable", KindOf(err))
	}
}

func TestGPSDWatchDeliversFixes(t *testing.T) {
	addr := startStubGPSD(t,
		`{"class":"TPV","mode":3,"lat":40.7,"lon":-74.0,"eph":8}`,
		`{"class":"TPV","mode":3,"lat":40.8,"lon":-74.1,"eph":6}`,
	)

	sensor := NewGPSDSensor(GPSDConfig{Address: addr})

	updates := make(chan geo.Sample, 8)
	cancel, err := sensor.Watch(WatchOptions(),
		func(s geo.Sample) { updates <- s },
		func(error) {},
	)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer cancel()

	select {
	case s := <-updates:
		if s.Latitude != 40.7 {
			t.Errorf("first fix lat = %v, want 40.7", s.Latitude)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch update")
	}
}

func TestGPSDWatchCommandFormat(t *testing.T) {
	if !strings.HasPrefix(gpsdWatchCommand, "?WATCH=") {
		t.Errorf("unexpected watch command %q", gpsdWatchCommand)
	}
	if !strings.HasSuffix(gpsdWatchCommand, "\n") {
		t.Error("watch command must be newline-terminated")
	}
}
