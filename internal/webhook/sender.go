package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/logging"
)

type WebhookEvent string

const EventOrderStatus WebhookEvent = "order_status"

var (
	ErrQueueFull = errors.New("webhook queue full")
	ErrStopped   = errors.New("webhook sender stopped")
)

type WebhookPayload struct {
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Data      OrderStatusData `json:"data"`
	Signature string          `json:"signature,omitempty"`
}

type OrderStatusData struct {
	OrderID string             `json:"order_id"`
	Status  core.DisplayStatus `json:"status"`
	Printer string             `json:"printer,omitempty"`
}

type WebhookConfig struct {
	Targets     []config.WebhookTarget
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

// ConfigFrom builds a WebhookConfig from the report section.
func ConfigFrom(cfg config.ReportConfig) WebhookConfig {
	return WebhookConfig{
		Targets:     cfg.Webhooks,
		RetryCount:  cfg.WebhookRetryCount,
		RetryDelay:  cfg.WebhookRetryDelay,
		Timeout:     cfg.WebhookTimeout,
		WorkerCount: cfg.WebhookWorkers,
		QueueSize:   cfg.QueueSize,
	}
}

type webhookTask struct {
	target  config.WebhookTarget
	payload *WebhookPayload
	attempt int
}

// WebhookSender is a core.ReportSink that posts order status changes to
// every configured target from a pool of workers.
type WebhookSender struct {
	targets    []config.WebhookTarget
	httpClient *http.Client
	retryCount int
	retryDelay time.Duration
	workers    int
	queue      chan *webhookTask
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	logger     *slog.Logger
	now        func() time.Time
}

func NewWebhookSender(cfg WebhookConfig, logger *slog.Logger) *WebhookSender {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	return &WebhookSender{
		targets: cfg.Targets,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retryCount: cfg.RetryCount,
		retryDelay: cfg.RetryDelay,
		workers:    cfg.WorkerCount,
		queue:      make(chan *webhookTask, cfg.QueueSize),
		stopCh:     make(chan struct{}),
		logger:     logging.Component(logger, "webhook"),
		now:        time.Now,
	}
}

func (s *WebhookSender) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Stop refuses new events and waits for the workers. Events already queued
// get one delivery attempt each before the workers exit.
func (s *WebhookSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// RecordStatus queues one order_status event per target.
func (s *WebhookSender) RecordStatus(ctx context.Context, orderID string, status core.DisplayStatus, printerName string) error {
	select {
	case <-s.stopCh:
		return ErrStopped
	default:
	}

	var dropped int
	for _, target := range s.targets {
		task := &webhookTask{
			target: target,
			payload: &WebhookPayload{
				Event:     string(EventOrderStatus),
				Timestamp: s.now(),
				Data: OrderStatusData{
					OrderID: orderID,
					Status:  status,
					Printer: printerName,
				},
			},
		}

		select {
		case s.queue <- task:
		default:
			dropped++
			s.logger.Warn("queue full, dropping webhook", "url", target.URL, "order_id", orderID)
		}
	}

	if dropped > 0 {
		return fmt.Errorf("%w: %d of %d targets", ErrQueueFull, dropped, len(s.targets))
	}
	return nil
}

func (s *WebhookSender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			s.drain(id)
			return
		case task := <-s.queue:
			s.deliver(id, task)
		}
	}
}

// drain flushes what is left in the queue. sendWithRetry does not back off
// once stopCh is closed, so each task is tried once.
func (s *WebhookSender) drain(id int) {
	for {
		select {
		case task := <-s.queue:
			s.deliver(id, task)
		default:
			return
		}
	}
}

func (s *WebhookSender) deliver(id int, task *webhookTask) {
	if err := s.sendWithRetry(task); err != nil {
		s.logger.Warn("webhook delivery failed",
			"worker", id, "url", task.target.URL, "order_id", task.payload.Data.OrderID,
			"attempts", task.attempt, "error", err)
	}
}

func (s *WebhookSender) sendWithRetry(task *webhookTask) error {
	var lastErr error
	for task.attempt < s.retryCount {
		task.attempt++

		err := s.sendRequest(task.target, task.payload)
		if err == nil {
			return nil
		}

		lastErr = err

		var he *httpError
		if errors.As(err, &he) && he.clientError() {
			return err
		}

		if task.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(task.attempt-1))
			s.logger.Debug("retrying webhook", "attempt", task.attempt, "url", task.target.URL, "backoff", backoff, "error", err)

			select {
			case <-s.stopCh:
				return ErrStopped
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("http error: %d", e.code)
}

func (e *httpError) clientError() bool {
	return e.code >= 400 && e.code < 500
}

func (s *WebhookSender) sendRequest(target config.WebhookTarget, payload *WebhookPayload) error {
	dataBytes, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	payload.Signature = ""
	if target.Secret != "" {
		payload.Signature = Sign(dataBytes, target.Secret)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", payload.Event)
	if payload.Signature != "" {
		req.Header.Set("X-Webhook-Signature", payload.Signature)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &httpError{code: resp.StatusCode}
	}

	return nil
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether signature matches payload under secret.
func Verify(payload []byte, secret, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hmac.Equal(h.Sum(nil), expected)
}
