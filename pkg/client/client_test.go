package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Status{
			Policy:       "halted",
			CrashCount:   4,
			Device:       "/dev/video0",
			DeviceHealth: "unreachable",
		})
	})
	mux.HandleFunc("POST /api/reset", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	mux.HandleFunc("POST /api/stop", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "stop timed out"})
	})
	mux.HandleFunc("GET /api/events", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]EventRecord{{ID: 1, Severity: "WARN", Message: "producer crashed code=1"}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server) *Client {
	return New(Config{BaseURL: srv.URL + "/api"})
}

func TestStatusDecodesResponse(t *testing.T) {
	c := newTestClient(testServer(t))
	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Policy != "halted" || st.CrashCount != 4 || st.DeviceHealth != "unreachable" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestResetSucceeds(t *testing.T) {
	c := newTestClient(testServer(t))
	if err := c.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
}

func TestErrorResponseSurfaced(t *testing.T) {
	c := newTestClient(testServer(t))
	err := c.Stop(context.Background())
	if err == nil || !strings.Contains(err.Error(), "stop timed out") {
		t.Fatalf("expected API error text, got %v", err)
	}
}

func TestEventsDecodesList(t *testing.T) {
	c := newTestClient(testServer(t))
	evs, err := c.Events(context.Background(), 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 1 || evs[0].Message != "producer crashed code=1" {
		t.Fatalf("unexpected events: %+v", evs)
	}
}

func TestIsReachable(t *testing.T) {
	srv := testServer(t)
	c := newTestClient(srv)
	if !c.IsReachable(context.Background()) {
		t.Fatalf("live server should be reachable")
	}
	srv.Close()
	if c.IsReachable(context.Background()) {
		t.Fatalf("closed server should not be reachable")
	}
}
