package uplink

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bit2swaz/loramesh/internal/store"
)

func TestRelayFiltersByPrefix(t *testing.T) {
	var mu sync.Mutex
	var posted []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Failed to decode webhook body: %v", err)
		}
		mu.Lock()
		posted = append(posted, body["content"])
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewService(srv.URL, "/uplink")
	if err := s.Relay(store.Message{Sender: "BBBBBBBBBBBBBBBBBBBBBBBB", Payload: "just chatting"}); err != nil {
		t.Fatalf("Relay failed: %v", err)
	}
	if err := s.Relay(store.Message{Sender: "BBBBBBBBBBBBBBBBBBBBBBBB", Payload: "/uplink need water at camp 3", SentAt: 1700000000}); err != nil {
		t.Fatalf("Relay failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(posted) != 1 {
		t.Fatalf("Expected 1 webhook post, got %d", len(posted))
	}
	if !strings.Contains(posted[0], "need water at camp 3") || strings.Contains(posted[0], "/uplink") {
		t.Errorf("Unexpected webhook content %q", posted[0])
	}
}

func TestRelayReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewService(srv.URL, "")
	if err := s.Relay(store.Message{Payload: "hello"}); err == nil {
		t.Error("Expected error on 502 response")
	}
}
