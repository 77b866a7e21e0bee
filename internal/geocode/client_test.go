package geocode

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_ReverseArea(t *testing.T) {
	t.Run("resolves locality from provider", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("lat") != "12.9" || r.URL.Query().Get("lon") != "77.6" {
				t.Errorf("unexpected query: %s", r.URL.RawQuery)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"display_name":"Koramangala, Bengaluru"}`))
		}))
		defer server.Close()

		client := NewClient(server.URL, server.Client(), 5*time.Second)
		area, err := client.ReverseArea(context.Background(), 12.9, 77.6)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if area != "Koramangala, Bengaluru" {
			t.Errorf("unexpected area %q", area)
		}
	})

	t.Run("times out against a slow provider", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		}))
		defer server.Close()

		client := NewClient(server.URL, server.Client(), 50*time.Millisecond)
		start := time.Now()
		_, err := client.ReverseArea(context.Background(), 12.9, 77.6)
		if err == nil {
			t.Fatal("expected timeout error")
		}
		if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
			t.Errorf("lookup was not bounded by the timeout, took %s", elapsed)
		}
	})

	t.Run("fallback absorbs provider failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := NewClient(server.URL, server.Client(), time.Second)
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		area := client.ReverseAreaOrFallback(context.Background(), 12.9, 77.6, logger)
		if area != FallbackArea {
			t.Errorf("expected %q, got %q", FallbackArea, area)
		}
	})
}
