// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package validation

import (
	"strings"
	"sync"
	"testing"
)

type sampleRequest struct {
	Source   string            `json:"source" validate:"required,source_tag,max=16"`
	Title    string            `json:"title" validate:"required,max=20"`
	Lat      *float64          `json:"lat" validate:"omitempty,latitude"`
	Priority string            `json:"priority" validate:"omitempty,oneof=normal high urgent"`
	Severity float64           `json:"severity" validate:"gte=0,lte=10"`
	Fields   map[string]string `json:"fields" validate:"omitempty,max=2"`
}

func ptr(f float64) *float64 { return &f }

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name      string
		req       sampleRequest
		wantField string
		wantTag   string
	}{
		{"valid", sampleRequest{Source: "rss.reuters", Title: "ok"}, "", ""},
		{"missing source", sampleRequest{Title: "ok"}, "source", "required"},
		{"uppercase source", sampleRequest{Source: "RSS", Title: "ok"}, "source", "source_tag"},
		{"source with space", sampleRequest{Source: "a b", Title: "ok"}, "source", "source_tag"},
		{"title too long", sampleRequest{Source: "rss", Title: strings.Repeat("x", 21)}, "title", "max"},
		{"bad latitude", sampleRequest{Source: "rss", Title: "ok", Lat: ptr(91)}, "lat", "latitude"},
		{"bad priority", sampleRequest{Source: "rss", Title: "ok", Priority: "panic"}, "priority", "oneof"},
		{"severity above range", sampleRequest{Source: "rss", Title: "ok", Severity: 11}, "severity", "lte"},
		{"too many fields", sampleRequest{Source: "rss", Title: "ok", Fields: map[string]string{"a": "1", "b": "2", "c": "3"}}, "fields", "max"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.req)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("ValidateStruct() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("ValidateStruct() = nil, want error")
			}
			errs := err.Errors()
			if len(errs) != 1 {
				t.Fatalf("got %d errors, want 1: %v", len(errs), err)
			}
			if errs[0].Field() != tt.wantField || errs[0].Tag() != tt.wantTag {
				t.Errorf("got (%s, %s), want (%s, %s)", errs[0].Field(), errs[0].Tag(), tt.wantField, tt.wantTag)
			}
		})
	}
}

func TestToAPIError(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		err := ValidateStruct(&sampleRequest{Title: "ok"})
		apiErr := err.ToAPIError()
		if apiErr.Code != "VALIDATION_ERROR" {
			t.Errorf("Code = %q", apiErr.Code)
		}
		if apiErr.Message != "source is required" {
			t.Errorf("Message = %q", apiErr.Message)
		}
		if apiErr.Details["field"] != "source" {
			t.Errorf("Details = %v", apiErr.Details)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		err := ValidateStruct(&sampleRequest{})
		apiErr := err.ToAPIError()
		if !strings.Contains(apiErr.Message, "source is required") || !strings.Contains(apiErr.Message, "title is required") {
			t.Errorf("Message = %q", apiErr.Message)
		}
		fields, ok := apiErr.Details["fields"].([]map[string]interface{})
		if !ok || len(fields) != 2 {
			t.Errorf("Details[fields] = %v", apiErr.Details["fields"])
		}
	})

	t.Run("empty", func(t *testing.T) {
		apiErr := (&RequestValidationError{}).ToAPIError()
		if apiErr.Message != "Validation failed" {
			t.Errorf("Message = %q", apiErr.Message)
		}
	})
}

func TestGetValidator_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if GetValidator() == nil {
				t.Error("GetValidator() = nil")
			}
			_ = ValidateStruct(&sampleRequest{Source: "rss", Title: "ok"})
		}()
	}
	wg.Wait()
}
