// Package events provides the in-process pub/sub bus the marketplace uses to
// decouple side effects (update flagging) from the transactions that trigger
// them. Publishers emit only after their transaction commits; subscribers
// must be idempotent because delivery is retried.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/appforge-labs/marketplace-engine/pkg/retry"
)

// Topics emitted by the marketplace engine.
const (
	TopicAppSubmitted    = "marketplace.app.submitted"
	TopicVersionApproved = "marketplace.app.version.approved"
	TopicAppInstalled    = "marketplace.app.installed"
)

// AppSubmitted is the payload of TopicAppSubmitted.
type AppSubmitted struct {
	AppID     uuid.UUID
	VersionID uuid.UUID
}

// VersionApproved is the payload of TopicVersionApproved. It is the sole
// trigger for update propagation.
type VersionApproved struct {
	AppID        uuid.UUID
	NewVersionID uuid.UUID
}

// AppInstalled is the payload of TopicAppInstalled. Informational only.
type AppInstalled struct {
	InstallationID uuid.UUID
	TeamID         uuid.UUID
}

// HandlerFunc consumes one event delivery. Returning an error triggers a
// retry with backoff; handlers therefore must be idempotent.
type HandlerFunc func(ctx context.Context, payload any) error

// RetryConfig configures redelivery of failed handler invocations.
type RetryConfig struct {
	MaxRetries     int           // retries after the first attempt (0 = no retries)
	InitialBackoff time.Duration // backoff before the first retry
	BackoffFactor  float64       // multiplier per retry
}

// DefaultRetryConfig retries three times over roughly seven seconds, enough
// to ride out transient database contention without holding deliveries open
// indefinitely.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		BackoffFactor:  2.0,
	}
}

// Bus is an in-process, fire-and-forget event bus. Each delivery runs on its
// own goroutine; Close waits for in-flight deliveries to finish.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]HandlerFunc
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	retry  RetryConfig
	logger *zap.Logger
}

// NewBus creates a bus with the given retry policy.
func NewBus(logger *zap.Logger, retry RetryConfig) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		subs:   make(map[string][]HandlerFunc),
		ctx:    ctx,
		cancel: cancel,
		retry:  retry,
		logger: logger,
	}
}

// Subscribe registers a handler for a topic. Subscriptions are expected to
// happen during startup, before any Publish.
func (b *Bus) Subscribe(topic string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], handler)
}

// Publish delivers payload to every subscriber of topic asynchronously and
// returns immediately. Delivery failures are retried, then logged and
// dropped; no publisher correctness may depend on delivery.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	handlers := b.subs[topic]
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		b.logger.Warn("Event dropped, bus closed", zap.String("topic", topic))
		return
	}

	for _, handler := range handlers {
		b.wg.Add(1)
		go func(h HandlerFunc) {
			defer b.wg.Done()
			b.deliver(topic, h, payload)
		}(handler)
	}
}

// deliver invokes the handler with retries and backoff.
func (b *Bus) deliver(topic string, handler HandlerFunc, payload any) {
	cfg := &retry.Config{
		MaxRetries:   b.retry.MaxRetries,
		InitialDelay: b.retry.InitialBackoff,
		Multiplier:   b.retry.BackoffFactor,
	}

	err := retry.Do(b.ctx, cfg, func() error {
		if err := handler(b.ctx, payload); err != nil {
			b.logger.Warn("Event handler failed",
				zap.String("topic", topic),
				zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Event handler failed, giving up",
			zap.String("topic", topic),
			zap.Int("attempts", b.retry.MaxRetries+1),
			zap.Error(err))
	}
}

// Close stops accepting events and waits for in-flight deliveries.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	b.cancel()
}
