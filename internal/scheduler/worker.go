// Package scheduler runs the background maintenance loop: expiring
// overdue review items, sending escalating reminders, and sweeping
// acknowledged delivery envelopes.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mttmxr-creator/BotAICurator/internal/domain"
)

// Config contains scheduler configuration.
type Config struct {
	TickInterval     time.Duration
	ReminderInterval time.Duration
	MaxReminders     int
	SweepInterval    time.Duration
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		TickInterval:     30 * time.Second,
		ReminderInterval: 30 * time.Minute,
		MaxReminders:     4,
		SweepInterval:    1 * time.Hour,
	}
}

// Engine is the approval-queue surface the scheduler drives.
type Engine interface {
	ExpireOverdue(ctx context.Context) ([]domain.ReviewItem, error)
	DueForReminder(interval time.Duration, maxReminders int) []domain.ReviewItem
	MarkReminded(ctx context.Context, itemIDs []string) error
}

// Reminder delivers reminder notifications for waiting items.
type Reminder interface {
	Remind(ctx context.Context, item domain.ReviewItem, count, maxCount int)
}

// Sweeper releases storage held by settled delivery envelopes.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Worker drives time-based transitions. All state changes go through the
// engine, so the worker holds no item state of its own.
type Worker struct {
	config   Config
	engine   Engine
	reminder Reminder
	sweeper  Sweeper
	clock    clockwork.Clock

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorker creates a scheduler worker.
func NewWorker(config Config, engine Engine, reminder Reminder, sweeper Sweeper, clock clockwork.Clock) *Worker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Worker{
		config:   config,
		engine:   engine,
		reminder: reminder,
		sweeper:  sweeper,
		clock:    clock,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the scheduler loop.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting scheduler",
		"tick_interval", w.config.TickInterval,
		"reminder_interval", w.config.ReminderInterval,
		"max_reminders", w.config.MaxReminders,
		"sweep_interval", w.config.SweepInterval,
	)

	w.wg.Add(1)
	go w.run(ctx)
}

// Stop gracefully stops the scheduler.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	slog.Info("scheduler stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := w.clock.NewTicker(w.config.TickInterval)
	defer ticker.Stop()

	sweepTicker := w.clock.NewTicker(w.config.SweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.Chan():
			w.Tick(ctx)
		case <-sweepTicker.Chan():
			w.sweep(ctx)
		}
	}
}

// Tick runs one expiry and reminder pass.
func (w *Worker) Tick(ctx context.Context) {
	start := w.clock.Now()

	expired, err := w.engine.ExpireOverdue(ctx)
	if err != nil {
		slog.Error("expiry pass failed", "error", err)
		recordPass("expire", "error")
	} else {
		recordPass("expire", "ok")
		recordExpired(len(expired))
	}

	w.remind(ctx)

	slog.Debug("scheduler tick complete",
		"expired", len(expired),
		"duration", w.clock.Since(start),
	)
}

func (w *Worker) remind(ctx context.Context) {
	due := w.engine.DueForReminder(w.config.ReminderInterval, w.config.MaxReminders)
	if len(due) == 0 {
		return
	}

	ids := make([]string, 0, len(due))
	for _, item := range due {
		w.reminder.Remind(ctx, item, item.ReminderCount+1, w.config.MaxReminders)
		ids = append(ids, item.ID)
	}
	recordReminders(len(due))

	if err := w.engine.MarkReminded(ctx, ids); err != nil {
		// Worst case the next tick reminds again; re-delivery beats
		// silently losing the reminder.
		slog.Error("failed to record reminders", "count", len(ids), "error", err)
		recordPass("remind", "error")
		return
	}
	recordPass("remind", "ok")
}

func (w *Worker) sweep(ctx context.Context) {
	removed, err := w.sweeper.Sweep(ctx)
	if err != nil {
		slog.Error("delivery sweep failed", "error", err)
		recordPass("sweep", "error")
		return
	}
	recordPass("sweep", "ok")
	if removed > 0 {
		slog.Info("swept settled delivery envelopes", "removed", removed)
	}
}
