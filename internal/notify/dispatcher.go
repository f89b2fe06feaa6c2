// Package notify delivers outbox messages to the configured notification
// endpoint. Each message is retried on its own schedule, so a failing
// receiver never blocks order creation.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"checkout-reconciler/internal/config"
	"checkout-reconciler/internal/model"
	"checkout-reconciler/internal/repository"
	"checkout-reconciler/internal/webhook"
)

const (
	TopicHeader   = "X-Event-Topic"
	maxRetryDelay = time.Hour
)

type Dispatcher struct {
	outbox       repository.OutboxRepository
	client       *http.Client
	url          string
	secret       string
	pollInterval time.Duration
	retryDelay   time.Duration
	maxAttempts  int
	batchSize    int
	logger       *slog.Logger
	now          func() time.Time
}

func NewDispatcher(cfg config.Notify, outbox repository.OutboxRepository, logger *slog.Logger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		outbox:       outbox,
		client:       &http.Client{Timeout: 15 * time.Second},
		url:          cfg.URL,
		secret:       cfg.Secret,
		pollInterval: cfg.PollInterval,
		retryDelay:   cfg.RetryDelay,
		maxAttempts:  cfg.MaxAttempts,
		batchSize:    cfg.BatchSize,
		logger:       logger,
		now:          time.Now,
	}
}

// Run polls the outbox until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.url == "" {
		d.logger.Info("notification url not configured, outbox dispatcher disabled")
		return
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.DeliverPending(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("deliver outbox messages", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DeliverPending makes one delivery attempt for every due message and
// returns how many were delivered.
func (d *Dispatcher) DeliverPending(ctx context.Context) (int, error) {
	msgs, err := d.outbox.FetchDue(ctx, d.now(), d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch due outbox messages: %w", err)
	}

	delivered := 0
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}

		sendErr := d.send(ctx, msg)
		if sendErr == nil {
			if err := d.outbox.MarkDelivered(ctx, msg.ID, d.now()); err != nil {
				return delivered, fmt.Errorf("mark outbox message delivered: %w", err)
			}
			delivered++
			continue
		}

		attempts := msg.Attempts + 1
		terminal := attempts >= d.maxAttempts
		next := d.now().Add(d.backoff(attempts))
		if err := d.outbox.MarkAttemptFailed(ctx, msg.ID, attempts, next, sendErr.Error(), terminal); err != nil {
			return delivered, fmt.Errorf("mark outbox attempt failed: %w", err)
		}

		if terminal {
			d.logger.Error("outbox message abandoned",
				"message_id", msg.ID,
				"topic", msg.Topic,
				"aggregate_id", msg.AggregateID,
				"attempts", attempts,
				"error", sendErr,
			)
		} else {
			d.logger.Warn("outbox delivery failed",
				"message_id", msg.ID,
				"topic", msg.Topic,
				"attempts", attempts,
				"next_attempt_at", next,
				"error", sendErr,
			)
		}
	}

	return delivered, nil
}

// backoff doubles the retry delay per attempt.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	delay := d.retryDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

func (d *Dispatcher) send(ctx context.Context, msg *model.OutboxMessage) error {
	body, err := json.Marshal(webhook.Event{
		ID:      msg.ID,
		Type:    msg.Topic,
		Created: msg.CreatedAt.Unix(),
		Data:    webhook.EventData{Object: json.RawMessage(msg.Payload)},
	})
	if err != nil {
		return fmt.Errorf("marshal outbox event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TopicHeader, msg.Topic)
	if d.secret != "" {
		for k, v := range webhook.Sign(body, d.secret) {
			req.Header.Set(k, v)
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification endpoint returned %d: %s", resp.StatusCode, string(b))
	}

	return nil
}
