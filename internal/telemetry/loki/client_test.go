package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPushEventJSON_LabelsAndTimestamp(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	created := time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)
	raw, _ := json.Marshal(map[string]interface{}{
		"type": "transfer_committed", "source": "ledger", "account_id": "acc-1", "created_at": created,
	})
	if err := NewClient(srv.URL+"/").PushEventJSON(context.Background(), raw); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	if len(got.Streams) != 1 {
		t.Fatalf("streams = %d, want 1", len(got.Streams))
	}
	s := got.Streams[0]
	if s.Stream["job"] != jobLabel || s.Stream["event_type"] != "transfer_committed" || s.Stream["source"] != "ledger" {
		t.Errorf("labels = %v", s.Stream)
	}
	if _, ok := s.Stream["account_id"]; ok {
		t.Error("account_id must not become a label")
	}
	if s.Values[0][0] != "1775118600000000000" {
		t.Errorf("timestamp = %s", s.Values[0][0])
	}
}

func TestPush_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	if err := NewClient(srv.URL).Push(context.Background(), time.Now(), "x", nil); err == nil {
		t.Fatal("Push should fail on 502")
	}
}

func TestPush_EmptyBaseURL(t *testing.T) {
	if err := NewClient("").Push(context.Background(), time.Now(), "x", nil); err == nil {
		t.Fatal("Push should fail without a base URL")
	}
}

func TestPushEventJSON_Unparseable(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()
	if err := NewClient(srv.URL).PushEventJSON(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	if got.Streams[0].Values[0][1] != "not json" {
		t.Errorf("line = %q", got.Streams[0].Values[0][1])
	}
}
