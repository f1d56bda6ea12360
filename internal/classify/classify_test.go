// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package classify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/meridian/internal/models"
)

func TestClient_ClassifyBatch(t *testing.T) {
	var gotAuth string
	var gotReq batchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"results":{"a":{"category":"explosion","severity":7,"place_name":"Kyiv","tags":["blast"]}}}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "secret", time.Second)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	res, err := c.ClassifyBatch(context.Background(), []models.Item{
		{ID: "a", Source: "rss", Title: "Blast in Kyiv"},
		{ID: "b", Source: "rss", Title: "Weather"},
	})
	if err != nil {
		t.Fatalf("ClassifyBatch() error = %v", err)
	}

	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want Bearer secret", gotAuth)
	}
	if len(gotReq.Items) != 2 || gotReq.Items[0].Title != "Blast in Kyiv" {
		t.Errorf("request items = %+v", gotReq.Items)
	}
	r, ok := res["a"]
	if !ok || r.Category != "explosion" || r.Severity != 7 || r.PlaceName != "Kyiv" {
		t.Errorf("result[a] = %+v, ok=%v", r, ok)
	}
	if _, ok := res["b"]; ok {
		t.Error("result[b] should be absent")
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "", time.Second)
	_, err := c.ClassifyBatch(context.Background(), []models.Item{{ID: "a"}})
	if !errors.Is(err, ErrStatus) {
		t.Errorf("ClassifyBatch() error = %v, want ErrStatus", err)
	}
}

func TestClient_EmptyBatch(t *testing.T) {
	c, _ := NewClient("http://127.0.0.1:1", "", time.Second)
	res, err := c.ClassifyBatch(context.Background(), nil)
	if err != nil || len(res) != 0 {
		t.Errorf("ClassifyBatch(nil) = %v, %v; want empty, nil", res, err)
	}
}

func TestNewClient_RequiresURL(t *testing.T) {
	if _, err := NewClient("", "", 0); err == nil {
		t.Error("NewClient(\"\") error = nil, want error")
	}
}

func TestKeyword(t *testing.T) {
	k := NewKeyword(nil)
	res, err := k.ClassifyBatch(context.Background(), []models.Item{
		{ID: "1", Title: "Car bomb explosion near market"},
		{ID: "2", Title: "Protesters gather downtown", Summary: "Police used tear gas"},
		{ID: "3", Title: "Local team wins final"},
	})
	if err != nil {
		t.Fatalf("ClassifyBatch() error = %v", err)
	}

	tests := []struct {
		id       string
		category string
		severity float64
		present  bool
	}{
		{"1", "terrorism", 9, true},
		{"2", "unrest", 4, true},
		{"3", "", 0, false},
	}
	for _, tt := range tests {
		got, ok := res[tt.id]
		if ok != tt.present {
			t.Errorf("result[%s] present = %v, want %v", tt.id, ok, tt.present)
			continue
		}
		if ok && (got.Category != tt.category || got.Severity != tt.severity) {
			t.Errorf("result[%s] = (%s, %v), want (%s, %v)", tt.id, got.Category, got.Severity, tt.category, tt.severity)
		}
	}
	if tags := res["1"].Tags; len(tags) != 2 {
		t.Errorf("result[1].Tags = %v, want terrorism and explosion", tags)
	}
}
