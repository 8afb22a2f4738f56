package notify

import (
	"context"
	"log/slog"
	"time"
)

// Message is a rendered notification bound for one reviewer.
type Message struct {
	ChatID     int64
	Text       string
	ItemID     string
	Actionable bool // render action controls; false shows a read-only indicator
}

// MessageRef identifies a delivered message in the reviewer transport,
// so a later state change can update it in place.
type MessageRef struct {
	ChatID    int64
	MessageID int64
}

// Sender delivers notifications to the reviewer transport.
type Sender interface {
	Send(ctx context.Context, msg Message) (MessageRef, error)
	Update(ctx context.Context, ref MessageRef, msg Message) error
}

// DispatcherConfig contains retry policy for outbound notification calls.
type DispatcherConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// DefaultDispatcherConfig returns the default retry policy.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// Dispatcher wraps a Sender with a bounded retry policy. Transient
// transport failures are retried here; exhaustion is logged and reported
// to the caller, never silently dropped. Item state is unaffected either
// way.
type Dispatcher struct {
	config DispatcherConfig
	sender Sender
}

// NewDispatcher creates a dispatcher over the given sender.
func NewDispatcher(config DispatcherConfig, sender Sender) *Dispatcher {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Dispatcher{config: config, sender: sender}
}

// Send delivers a message, retrying transient failures.
func (d *Dispatcher) Send(ctx context.Context, msg Message) (MessageRef, error) {
	var ref MessageRef
	err := d.withRetry(ctx, "send", msg.ChatID, func() error {
		var sendErr error
		ref, sendErr = d.sender.Send(ctx, msg)
		return sendErr
	})
	return ref, err
}

// Update edits a previously delivered message, retrying transient failures.
func (d *Dispatcher) Update(ctx context.Context, ref MessageRef, msg Message) error {
	return d.withRetry(ctx, "update", msg.ChatID, func() error {
		return d.sender.Update(ctx, ref, msg)
	})
}

func (d *Dispatcher) withRetry(ctx context.Context, op string, chatID int64, fn func() error) error {
	var lastErr error
	backoff := d.config.InitialBackoff

	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			slog.Error("notification rejected by transport",
				"op", op,
				"chat_id", chatID,
				"error", lastErr,
			)
			return lastErr
		}
		if attempt == d.config.MaxAttempts {
			break
		}

		slog.Warn("notification attempt failed, retrying",
			"op", op,
			"chat_id", chatID,
			"attempt", attempt,
			"max_attempts", d.config.MaxAttempts,
			"backoff", backoff,
			"error", lastErr,
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff = time.Duration(float64(backoff) * d.config.BackoffMultiplier)
		if backoff > d.config.MaxBackoff {
			backoff = d.config.MaxBackoff
		}
	}

	slog.Error("notification attempts exhausted",
		"op", op,
		"chat_id", chatID,
		"attempts", d.config.MaxAttempts,
		"error", lastErr,
	)
	return lastErr
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	if r, ok := err.(retryable); ok {
		return r.IsRetryable()
	}

	// Default: retry unknown errors
	return true
}

// RetryableError wraps an error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}
