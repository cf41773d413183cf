package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/core"
)

type received struct {
	event     string
	signature string
	payload   WebhookPayload
}

func collector(t *testing.T, status int) (*httptest.Server, <-chan received, *int32) {
	t.Helper()
	ch := make(chan received, 16)
	var hits int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		body, _ := io.ReadAll(r.Body)
		var p WebhookPayload
		if err := json.Unmarshal(body, &p); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		ch <- received{event: r.Header.Get("X-Webhook-Event"), signature: r.Header.Get("X-Webhook-Signature"), payload: p}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, ch, &hits
}

func TestRecordStatusSignsPayload(t *testing.T) {
	srv, ch, _ := collector(t, http.StatusOK)

	s := NewWebhookSender(WebhookConfig{
		Targets: []config.WebhookTarget{{URL: srv.URL, Secret: "s3cret"}},
	}, nil)
	s.Start()
	defer s.Stop()

	if err := s.RecordStatus(context.Background(), "o-17", core.StatusPrinting, "Zebra"); err != nil {
		t.Fatalf("RecordStatus() error = %v", err)
	}

	select {
	case got := <-ch:
		if got.event != "order_status" || got.payload.Event != "order_status" {
			t.Fatalf("event = %q / %q", got.event, got.payload.Event)
		}
		want := OrderStatusData{OrderID: "o-17", Status: core.StatusPrinting, Printer: "Zebra"}
		if got.payload.Data != want {
			t.Fatalf("data = %+v, want %+v", got.payload.Data, want)
		}
		data, _ := json.Marshal(got.payload.Data)
		if !Verify(data, "s3cret", got.signature) || got.signature != got.payload.Signature {
			t.Fatalf("signature %q does not verify", got.signature)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never arrived")
	}
}

func TestServerErrorsAreRetried(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSender(WebhookConfig{
		Targets:    []config.WebhookTarget{{URL: srv.URL}},
		RetryCount: 3,
		RetryDelay: time.Millisecond,
	}, nil)

	task := &webhookTask{target: s.targets[0], payload: &WebhookPayload{Event: string(EventOrderStatus)}}
	if err := s.sendWithRetry(task); err != nil {
		t.Fatalf("sendWithRetry() error = %v", err)
	}
	if task.attempt != 3 {
		t.Fatalf("attempts = %d, want 3", task.attempt)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	srv, _, hits := collector(t, http.StatusNotFound)

	s := NewWebhookSender(WebhookConfig{
		Targets:    []config.WebhookTarget{{URL: srv.URL}},
		RetryCount: 5,
		RetryDelay: time.Millisecond,
	}, nil)

	task := &webhookTask{target: s.targets[0], payload: &WebhookPayload{Event: string(EventOrderStatus)}}
	if err := s.sendWithRetry(task); err == nil {
		t.Fatal("sendWithRetry() succeeded on 404")
	}
	if n := atomic.LoadInt32(hits); n != 1 {
		t.Fatalf("server hit %d times, want 1", n)
	}
}

func TestRecordStatusAfterStop(t *testing.T) {
	s := NewWebhookSender(WebhookConfig{Targets: []config.WebhookTarget{{URL: "http://127.0.0.1:1"}}}, nil)
	s.Start()
	s.Stop()

	if err := s.RecordStatus(context.Background(), "o1", core.StatusQueued, ""); err != ErrStopped {
		t.Fatalf("RecordStatus() after Stop = %v, want ErrStopped", err)
	}
}

func TestVerify(t *testing.T) {
	payload := []byte(`{"order_id":"1"}`)
	sig := Sign(payload, "k")

	if !Verify(payload, "k", sig) {
		t.Fatal("Verify() rejected own signature")
	}
	if Verify(payload, "other", sig) || Verify(payload, "k", "zz") {
		t.Fatal("Verify() accepted bad signature")
	}
}

func TestStopDeliversQueuedEvents(t *testing.T) {
	srv, _, hits := collector(t, http.StatusOK)

	s := NewWebhookSender(WebhookConfig{
		Targets: []config.WebhookTarget{{URL: srv.URL}},
	}, nil)
	for _, order := range []string{"o-1", "o-2", "o-3"} {
		if err := s.RecordStatus(context.Background(), order, core.StatusPrinted, "Zebra"); err != nil {
			t.Fatalf("RecordStatus(%s) error = %v", order, err)
		}
	}

	s.Start()
	s.Stop()

	if got := atomic.LoadInt32(hits); got != 3 {
		t.Fatalf("deliveries after Stop = %d, want 3", got)
	}
}
