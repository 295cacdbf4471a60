// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package validation

import (
	"strings"
	"testing"
)

type samplePayload struct {
	Lat    float64 `validate:"latitude"`
	Lng    float64 `validate:"longitude"`
	Source string  `validate:"required,oneof=precise coarse"`
}

func TestValidateStructPasses(t *testing.T) {
	p := samplePayload{Lat: 40.7, Lng: -74.0, Source: "precise"}
	if err := ValidateStruct(&p); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidateStructFieldErrors(t *testing.T) {
	tests := []struct {
		name     string
		payload  samplePayload
		wantPart string
	}{
		{"latitude out of range", samplePayload{Lat: 91, Lng: 0, Source: "precise"}, "valid latitude"},
		{"longitude out of range", samplePayload{Lat: 0, Lng: 181, Source: "precise"}, "valid longitude"},
		{"missing source", samplePayload{Lat: 0, Lng: 0}, "required"},
		{"bad source", samplePayload{Lat: 0, Lng: 0, Source: "psychic"}, "one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.payload)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.wantPart) {
				t.Errorf("error = %q, want containing %q", err.Error(), tt.wantPart)
			}
		})
	}
}

func TestValidateStructCollectsAllFields(t *testing.T) {
	p := samplePayload{Lat: 91, Lng: 181}
	err := ValidateStruct(&p)
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if len(err.Fields) != 3 {
		t.Errorf("got %d field errors, want 3: %v", len(err.Fields), err)
	}
}

func TestValidatorSingleton(t *testing.T) {
	if Validator() != Validator() {
		t.Error("Validator must return the same instance")
	}
}
