// SPDX-License-Identifier: MIT

package gena

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestSubscribeIssuesSIDAndRenews(t *testing.T) {
	svc := NewService(nil)

	sub, err := svc.Subscribe("", "http://127.0.0.1:9/callback", time.Minute)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if sub.SID == "" {
		t.Fatalf("expected non-empty SID")
	}

	renewed, err := svc.Subscribe(sub.SID, "", 2*time.Minute)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if renewed.SID != sub.SID {
		t.Fatalf("renew returned a different subscriber")
	}
	if renewed.Timeout != 2*time.Minute {
		t.Fatalf("renew did not update timeout")
	}
}

func TestSubscribeUnknownSIDFails(t *testing.T) {
	svc := NewService(nil)
	if _, err := svc.Subscribe("uuid:does-not-exist", "", time.Minute); err != ErrUnknownSID {
		t.Fatalf("got %v, want ErrUnknownSID", err)
	}
}

func TestUnsubscribeRemovesSID(t *testing.T) {
	svc := NewService(nil)
	sub, _ := svc.Subscribe("", "http://127.0.0.1:9/callback", time.Minute)
	if err := svc.Unsubscribe(sub.SID); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := svc.Unsubscribe(sub.SID); err != ErrUnknownSID {
		t.Fatalf("double-unsubscribe should fail with ErrUnknownSID, got %v", err)
	}
}

// P7: GENA SEQ per (service, SID) is strictly monotonic.
func TestNotifySequenceStrictlyMonotonic(t *testing.T) {
	var mu sync.Mutex
	var seqs []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seqs = append(seqs, r.Header.Get("SEQ"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := NewService(server.Client())
	sub, err := svc.Subscribe("", server.URL, time.Minute)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for i := 0; i < 5; i++ {
		svc.RecordChange("TransportState", "PLAYING")
		svc.flush()
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(seqs)
		mu.Unlock()
		if n >= 5 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seqs) < 2 {
		t.Fatalf("expected at least 2 notifications, got %d", len(seqs))
	}
	var last int64 = -1
	for _, s := range seqs {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			t.Fatalf("invalid SEQ header %q: %v", s, err)
		}
		if n <= last {
			t.Fatalf("SEQ not strictly increasing: %v", seqs)
		}
		last = n
	}
	_ = sub
}

func TestInitialStateSentOnSubscribe(t *testing.T) {
	received := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("SEQ")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := NewService(server.Client())
	svc.InitialState = func() map[string]string {
		return map[string]string{"TransportState": "STOPPED"}
	}

	if _, err := svc.Subscribe("", server.URL, time.Minute); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case seq := <-received:
		if seq != "0" {
			t.Fatalf("initial event SEQ = %q, want 0", seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for initial event")
	}
}
