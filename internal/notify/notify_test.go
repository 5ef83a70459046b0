package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestSendDeliversPayload(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
	}))
	defer srv.Close()

	n := New(nil)
	err := n.Send(context.Background(), srv.URL, Payload{TaskID: "t1", Status: "completed"})
	if err != nil {
		t.Fatal(err)
	}
	if got.TaskID != "t1" || got.Status != "completed" || got.Timestamp.IsZero() {
		t.Errorf("server received %+v", got)
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
	}))
	defer srv.Close()

	n := New(nil)
	if err := n.Send(context.Background(), srv.URL, Payload{TaskID: "t1"}); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	n := New(nil)
	if err := n.Send(context.Background(), srv.URL, Payload{TaskID: "t1"}); err == nil {
		t.Fatal("4xx should surface an error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retries on 4xx)", calls.Load())
	}
}

func TestSendGivesUpAfterMaxTries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(nil)
	if err := n.Send(context.Background(), srv.URL, Payload{TaskID: "t1"}); err == nil {
		t.Fatal("persistent 5xx should fail")
	}
	if calls.Load() != maxTries {
		t.Errorf("calls = %d, want %d", calls.Load(), maxTries)
	}
}

func TestSendEmptyURLIsNoop(t *testing.T) {
	n := New(nil)
	if err := n.Send(context.Background(), "", Payload{TaskID: "t1"}); err != nil {
		t.Errorf("empty url should be a no-op, got %v", err)
	}
}
