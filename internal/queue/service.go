// Package queue implements the approval-queue engine: the state machine
// governing review items, its in-memory index and its durable persistence.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mttmxr-creator/BotAICurator/internal/domain"
)

// Event describes a completed state transition for fan-out.
type Event struct {
	Action    domain.Action
	Item      domain.ReviewItem
	ActorID   string // empty for system-originated events
	ActorName string
	QueueSize int // pending + editing items at the time of the event
}

// Notifier fans an event out to reviewers. Implementations must not
// affect item state: a failed notification is logged, never escalated.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Enqueuer hands an approved answer to the delivery channel.
type Enqueuer interface {
	Enqueue(ctx context.Context, env domain.DeliveryEnvelope) error
}

// Config contains engine configuration.
type Config struct {
	DefaultTimeout time.Duration // 0 disables auto-expiry for new items
	EditLockTTL    time.Duration // stale edit locks may be taken over after this
}

// Engine owns the review item state machine. Every mutation is funneled
// through it and applied under a single lock, so a transition is always
// validated against current state, never a stale read.
type Engine struct {
	cfg       Config
	store     Store
	reviewers *domain.ReviewerSet
	delivery  Enqueuer
	notifier  Notifier
	clock     clockwork.Clock

	mu      sync.Mutex
	items   map[string]domain.ReviewItem
	stopped bool

	events  chan Event
	drained chan struct{}
}

// NewEngine creates an engine and loads the persisted item set.
func NewEngine(ctx context.Context, cfg Config, store Store, reviewers *domain.ReviewerSet, delivery Enqueuer, notifier Notifier, clock clockwork.Clock) (*Engine, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.EditLockTTL <= 0 {
		cfg.EditLockTTL = 10 * time.Minute
	}

	items, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load review items: %w", err)
	}
	if items == nil {
		items = make(map[string]domain.ReviewItem)
	}

	slog.Info("queue engine initialized",
		"items", len(items),
		"reviewers", reviewers.Len(),
		"default_timeout", cfg.DefaultTimeout,
	)

	e := &Engine{
		cfg:       cfg,
		store:     store,
		reviewers: reviewers,
		delivery:  delivery,
		notifier:  notifier,
		clock:     clock,
		items:     items,
	}
	if notifier != nil {
		e.events = make(chan Event, 128)
		e.drained = make(chan struct{})
		go e.dispatchEvents()
	}
	return e, nil
}

// SubmitInput holds data for submitting a candidate answer for review.
type SubmitInput struct {
	ConversationID  string
	UserID          string
	UserDisplayName string
	OriginalInput   string
	Answer          string
	Timeout         time.Duration // 0 uses the configured default, negative disables expiry
}

// Submit adds a candidate answer to the queue and notifies all reviewers.
func (e *Engine) Submit(ctx context.Context, input SubmitInput) (*domain.ReviewItem, error) {
	now := e.clock.Now()

	item := domain.ReviewItem{
		ID:              uuid.NewString(),
		ConversationID:  input.ConversationID,
		UserID:          input.UserID,
		UserDisplayName: input.UserDisplayName,
		OriginalInput:   input.OriginalInput,
		Answer:          input.Answer,
		OriginalAnswer:  input.Answer,
		Status:          domain.ItemStatusPending,
		CreatedAt:       now,
		LastNotifiedAt:  &now,
	}

	timeout := input.Timeout
	if timeout == 0 {
		timeout = e.cfg.DefaultTimeout
	}
	if timeout > 0 {
		expires := now.Add(timeout)
		item.ExpiresAt = &expires
	}

	e.mu.Lock()
	err := e.commitLocked(ctx, item)
	if err == nil {
		e.notifyLocked(Event{Action: domain.ActionSubmit, Item: item, QueueSize: e.activeCountLocked()})
	}
	e.mu.Unlock()

	if err != nil {
		recordTransition(domain.ActionSubmit, "error")
		return nil, err
	}

	slog.Info("item submitted for review",
		"item_id", item.ID,
		"conversation_id", item.ConversationID,
		"user", item.UserDisplayName,
		"expires_at", item.ExpiresAt,
	)

	recordTransition(domain.ActionSubmit, "ok")
	return &item, nil
}

// Approve moves a pending or editing item to sent and enqueues the final
// text onto the delivery channel.
func (e *Engine) Approve(ctx context.Context, itemID, reviewerID string) (*domain.ReviewItem, error) {
	reviewer, ok := e.reviewers.Get(reviewerID)
	if !ok {
		return nil, ErrUnknownReviewer
	}

	e.mu.Lock()
	item, size, err := e.approveLocked(ctx, itemID, reviewer)
	if err == nil {
		e.notifyLocked(Event{Action: domain.ActionApprove, Item: item, ActorID: reviewer.ID, ActorName: reviewer.Name, QueueSize: size})
	}
	e.mu.Unlock()

	if err != nil {
		recordTransition(domain.ActionApprove, "error")
		return nil, err
	}

	slog.Info("item approved", "item_id", itemID, "reviewer", reviewer.ID)
	recordTransition(domain.ActionApprove, "ok")
	return &item, nil
}

func (e *Engine) approveLocked(ctx context.Context, itemID string, reviewer domain.Reviewer) (domain.ReviewItem, int, error) {
	item, ok := e.items[itemID]
	if !ok {
		return domain.ReviewItem{}, 0, ErrItemNotFound
	}
	if err := guardDecision(item.Status); err != nil {
		return domain.ReviewItem{}, 0, err
	}

	prev := item
	now := e.clock.Now()
	item.Status = domain.ItemStatusSent
	item.ModeratedAt = &now
	item.ModeratedBy = reviewer.ID
	item.ModeratedByName = reviewer.Name
	clearEditLock(&item)

	if err := e.commitLocked(ctx, item); err != nil {
		return domain.ReviewItem{}, 0, err
	}

	// The item is persisted as sent before the envelope. A crash
	// between the two writes leaves a sent item with no envelope: the
	// delivery is lost but nothing unapproved ever reaches the user.
	// The reverse order could hand the consumer an envelope for an
	// approval that failed to commit, which is the worse failure.
	env := domain.DeliveryEnvelope{
		ID:             uuid.NewString(),
		ConversationID: item.ConversationID,
		UserID:         item.UserID,
		Text:           item.Answer,
		ItemID:         item.ID,
		Status:         domain.EnvelopeStatusPending,
		CreatedAt:      now,
	}
	if err := e.delivery.Enqueue(ctx, env); err != nil {
		// The approval is only complete once the envelope is durable.
		// Roll the item back so the transition is not partially applied.
		e.items[itemID] = prev
		if saveErr := e.store.Save(ctx, e.items); saveErr != nil {
			slog.Error("failed to persist approval rollback", "item_id", itemID, "error", saveErr)
		}
		return domain.ReviewItem{}, 0, fmt.Errorf("enqueue delivery envelope: %w", err)
	}

	return item, e.activeCountLocked(), nil
}

// Reject moves a pending or editing item to rejected.
func (e *Engine) Reject(ctx context.Context, itemID, reviewerID, reason string) (*domain.ReviewItem, error) {
	reviewer, ok := e.reviewers.Get(reviewerID)
	if !ok {
		return nil, ErrUnknownReviewer
	}

	e.mu.Lock()
	item, size, err := func() (domain.ReviewItem, int, error) {
		item, ok := e.items[itemID]
		if !ok {
			return domain.ReviewItem{}, 0, ErrItemNotFound
		}
		if err := guardDecision(item.Status); err != nil {
			return domain.ReviewItem{}, 0, err
		}

		now := e.clock.Now()
		item.Status = domain.ItemStatusRejected
		item.ModeratedAt = &now
		item.ModeratedBy = reviewer.ID
		item.ModeratedByName = reviewer.Name
		item.RejectionReason = reason
		clearEditLock(&item)

		if err := e.commitLocked(ctx, item); err != nil {
			return domain.ReviewItem{}, 0, err
		}
		return item, e.activeCountLocked(), nil
	}()
	if err == nil {
		e.notifyLocked(Event{Action: domain.ActionReject, Item: item, ActorID: reviewer.ID, ActorName: reviewer.Name, QueueSize: size})
	}
	e.mu.Unlock()

	if err != nil {
		recordTransition(domain.ActionReject, "error")
		return nil, err
	}

	slog.Info("item rejected", "item_id", itemID, "reviewer", reviewer.ID, "reason", reason)
	recordTransition(domain.ActionReject, "ok")
	return &item, nil
}

// BeginEdit takes the edit lock on a pending item. Re-entry by the lock
// holder is a no-op; a lock left behind longer than EditLockTTL may be
// taken over by another reviewer.
func (e *Engine) BeginEdit(ctx context.Context, itemID, reviewerID string) (*domain.ReviewItem, error) {
	reviewer, ok := e.reviewers.Get(reviewerID)
	if !ok {
		return nil, ErrUnknownReviewer
	}

	e.mu.Lock()
	item, size, err := func() (domain.ReviewItem, int, error) {
		item, ok := e.items[itemID]
		if !ok {
			return domain.ReviewItem{}, 0, ErrItemNotFound
		}
		if err := guardDecision(item.Status); err != nil {
			return domain.ReviewItem{}, 0, err
		}

		now := e.clock.Now()
		if item.Status == domain.ItemStatusEditing {
			if item.EditorID == reviewer.ID {
				return item, e.activeCountLocked(), nil
			}
			if item.EditingStartedAt != nil && now.Sub(*item.EditingStartedAt) < e.cfg.EditLockTTL {
				return domain.ReviewItem{}, 0, ErrAlreadyLocked
			}
			slog.Warn("taking over stale edit lock",
				"item_id", itemID,
				"previous_editor", item.EditorID,
				"new_editor", reviewer.ID,
			)
		}

		item.Status = domain.ItemStatusEditing
		item.EditorID = reviewer.ID
		item.EditorName = reviewer.Name
		item.EditingStartedAt = &now

		if err := e.commitLocked(ctx, item); err != nil {
			return domain.ReviewItem{}, 0, err
		}
		return item, e.activeCountLocked(), nil
	}()
	if err == nil {
		e.notifyLocked(Event{Action: domain.ActionBeginEdit, Item: item, ActorID: reviewer.ID, ActorName: reviewer.Name, QueueSize: size})
	}
	e.mu.Unlock()

	if err != nil {
		recordTransition(domain.ActionBeginEdit, "error")
		return nil, err
	}

	slog.Info("item locked for editing", "item_id", itemID, "reviewer", reviewer.ID)
	recordTransition(domain.ActionBeginEdit, "ok")
	return &item, nil
}

// CancelEdit releases the edit lock and returns the item to pending.
// Only the lock holder may cancel.
func (e *Engine) CancelEdit(ctx context.Context, itemID, reviewerID string) (*domain.ReviewItem, error) {
	return e.finishEdit(ctx, itemID, reviewerID, domain.ActionCancelEdit, nil)
}

// SubmitEdit replaces the candidate answer text, releases the edit lock
// and returns the item to pending. Only the lock holder may submit.
func (e *Engine) SubmitEdit(ctx context.Context, itemID, reviewerID, newText string) (*domain.ReviewItem, error) {
	return e.finishEdit(ctx, itemID, reviewerID, domain.ActionSubmitEdit, &newText)
}

func (e *Engine) finishEdit(ctx context.Context, itemID, reviewerID string, action domain.Action, newText *string) (*domain.ReviewItem, error) {
	reviewer, ok := e.reviewers.Get(reviewerID)
	if !ok {
		return nil, ErrUnknownReviewer
	}

	e.mu.Lock()
	item, size, err := func() (domain.ReviewItem, int, error) {
		item, ok := e.items[itemID]
		if !ok {
			return domain.ReviewItem{}, 0, ErrItemNotFound
		}
		if err := guardDecision(item.Status); err != nil {
			return domain.ReviewItem{}, 0, err
		}
		if item.Status != domain.ItemStatusEditing {
			return domain.ReviewItem{}, 0, ErrInvalidTransition
		}
		if item.EditorID != reviewer.ID {
			return domain.ReviewItem{}, 0, ErrPermissionDenied
		}

		item.Status = domain.ItemStatusPending
		if newText != nil {
			item.Answer = *newText
		}
		clearEditLock(&item)

		if err := e.commitLocked(ctx, item); err != nil {
			return domain.ReviewItem{}, 0, err
		}
		return item, e.activeCountLocked(), nil
	}()
	if err == nil {
		e.notifyLocked(Event{Action: action, Item: item, ActorID: reviewer.ID, ActorName: reviewer.Name, QueueSize: size})
	}
	e.mu.Unlock()

	if err != nil {
		recordTransition(action, "error")
		return nil, err
	}

	slog.Info("edit finished", "item_id", itemID, "reviewer", reviewer.ID, "action", action)
	recordTransition(action, "ok")
	return &item, nil
}

// ExtendTimeout pushes the expiry deadline forward on a non-terminal item
// without changing its status.
func (e *Engine) ExtendTimeout(ctx context.Context, itemID, reviewerID string, extension time.Duration) (*domain.ReviewItem, error) {
	reviewer, ok := e.reviewers.Get(reviewerID)
	if !ok {
		return nil, ErrUnknownReviewer
	}
	if extension <= 0 {
		return nil, fmt.Errorf("extension must be positive")
	}

	e.mu.Lock()
	item, err := func() (domain.ReviewItem, error) {
		item, ok := e.items[itemID]
		if !ok {
			return domain.ReviewItem{}, ErrItemNotFound
		}
		if err := guardDecision(item.Status); err != nil {
			return domain.ReviewItem{}, err
		}

		var deadline time.Time
		if item.ExpiresAt != nil {
			deadline = item.ExpiresAt.Add(extension)
		} else {
			deadline = e.clock.Now().Add(extension)
		}
		item.ExpiresAt = &deadline

		if err := e.commitLocked(ctx, item); err != nil {
			return domain.ReviewItem{}, err
		}
		return item, nil
	}()
	e.mu.Unlock()

	if err != nil {
		recordTransition(domain.ActionExtend, "error")
		return nil, err
	}

	slog.Info("timeout extended",
		"item_id", itemID,
		"reviewer", reviewer.ID,
		"expires_at", item.ExpiresAt,
	)
	recordTransition(domain.ActionExtend, "ok")
	return &item, nil
}

// ExpireOverdue drives every overdue pending or editing item to expired
// and fans out a system notification per item. Items a reviewer resolved
// between the scan and the write are simply no longer overdue: the scan
// and the transition happen under the same lock.
func (e *Engine) ExpireOverdue(ctx context.Context) ([]domain.ReviewItem, error) {
	now := e.clock.Now()

	e.mu.Lock()
	expired, size, err := func() ([]domain.ReviewItem, int, error) {
		var expired []domain.ReviewItem
		var prev []domain.ReviewItem

		for id, item := range e.items {
			if item.Status.IsTerminal() || !item.IsExpired(now) {
				continue
			}
			prev = append(prev, item)
			item.Status = domain.ItemStatusExpired
			item.ModeratedAt = &now
			clearEditLock(&item)
			e.items[id] = item
			expired = append(expired, item)
		}

		if len(expired) == 0 {
			return nil, 0, nil
		}

		if err := e.store.Save(ctx, e.items); err != nil {
			for _, p := range prev {
				e.items[p.ID] = p
			}
			return nil, 0, fmt.Errorf("persist expired items: %w", err)
		}
		return expired, e.activeCountLocked(), nil
	}()
	for _, item := range expired {
		e.notifyLocked(Event{Action: domain.ActionExpire, Item: item, QueueSize: size})
	}
	e.mu.Unlock()

	if err != nil {
		return nil, err
	}

	for _, item := range expired {
		slog.Info("item expired", "item_id", item.ID, "created_at", item.CreatedAt)
		recordTransition(domain.ActionExpire, "ok")
	}
	return expired, nil
}

// DueForReminder returns pending items whose last notification is older
// than the given interval. Items under an edit lock are skipped: someone
// is already looking at them.
func (e *Engine) DueForReminder(interval time.Duration, maxReminders int) []domain.ReviewItem {
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	var due []domain.ReviewItem
	for _, item := range e.items {
		if item.Status != domain.ItemStatusPending {
			continue
		}
		if maxReminders > 0 && item.ReminderCount >= maxReminders {
			continue
		}
		// Escalating schedule: each reminder doubles the wait.
		wait := interval << item.ReminderCount
		last := item.CreatedAt
		if item.LastNotifiedAt != nil {
			last = *item.LastNotifiedAt
		}
		if now.Sub(last) >= wait {
			due = append(due, item)
		}
	}
	return due
}

// MarkReminded records that a reminder was sent for the given items.
// This touches bookkeeping only, never status.
func (e *Engine) MarkReminded(ctx context.Context, itemIDs []string) error {
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	var prev []domain.ReviewItem
	for _, id := range itemIDs {
		item, ok := e.items[id]
		if !ok || item.Status.IsTerminal() {
			continue
		}
		prev = append(prev, item)
		item.LastNotifiedAt = &now
		item.ReminderCount++
		e.items[id] = item
	}
	if len(prev) == 0 {
		return nil
	}

	if err := e.store.Save(ctx, e.items); err != nil {
		for _, p := range prev {
			e.items[p.ID] = p
		}
		return fmt.Errorf("persist reminder bookkeeping: %w", err)
	}
	return nil
}

// Get retrieves an item by id.
func (e *Engine) Get(itemID string) (*domain.ReviewItem, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	item, ok := e.items[itemID]
	if !ok {
		return nil, ErrItemNotFound
	}
	return &item, nil
}

// List returns items, optionally filtered by status, newest first.
func (e *Engine) List(status domain.ItemStatus) []domain.ReviewItem {
	e.mu.Lock()
	defer e.mu.Unlock()

	items := make([]domain.ReviewItem, 0, len(e.items))
	for _, item := range e.items {
		if status != "" && item.Status != status {
			continue
		}
		items = append(items, item)
	}
	sortItemsNewestFirst(items)
	return items
}

// Stats contains queue statistics.
type Stats struct {
	Pending       int           `json:"pending"`
	Editing       int           `json:"editing"`
	Sent          int           `json:"sent"`
	Rejected      int           `json:"rejected"`
	Expired       int           `json:"expired"`
	Overdue       int           `json:"overdue"`
	OldestPending time.Duration `json:"oldest_pending_age,omitempty"`
}

// GetStats returns queue statistics for monitoring.
func (e *Engine) GetStats() Stats {
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	var stats Stats
	var oldest *time.Time
	for _, item := range e.items {
		switch item.Status {
		case domain.ItemStatusPending:
			stats.Pending++
			if oldest == nil || item.CreatedAt.Before(*oldest) {
				created := item.CreatedAt
				oldest = &created
			}
		case domain.ItemStatusEditing:
			stats.Editing++
		case domain.ItemStatusSent:
			stats.Sent++
		case domain.ItemStatusRejected:
			stats.Rejected++
		case domain.ItemStatusExpired:
			stats.Expired++
		}
		if !item.Status.IsTerminal() && item.IsExpired(now) {
			stats.Overdue++
		}
	}
	if oldest != nil {
		stats.OldestPending = now.Sub(*oldest)
	}
	return stats
}

// commitLocked persists the item set with the given item applied and
// rolls the in-memory state back if the write fails. Must be called with
// e.mu held.
func (e *Engine) commitLocked(ctx context.Context, item domain.ReviewItem) error {
	prev, existed := e.items[item.ID]
	e.items[item.ID] = item

	if err := e.store.Save(ctx, e.items); err != nil {
		if existed {
			e.items[item.ID] = prev
		} else {
			delete(e.items, item.ID)
		}
		return fmt.Errorf("persist item %s: %w", item.ID, err)
	}
	return nil
}

func (e *Engine) activeCountLocked() int {
	count := 0
	for _, item := range e.items {
		if !item.Status.IsTerminal() {
			count++
		}
	}
	return count
}

// notifyLocked queues a fan-out event. Must be called with e.mu held so
// events reach the dispatcher in the order their transitions committed.
func (e *Engine) notifyLocked(ev Event) {
	if e.events == nil || e.stopped {
		return
	}
	e.events <- ev
}

// dispatchEvents hands queued events to the notifier one at a time. The
// single consumer keeps fan-outs in transition order; a stalled notifier
// backs transitions up once the buffer fills instead of reordering them.
// Fan-out never inherits a caller's deadline: failures are the
// notifier's to log and retry.
func (e *Engine) dispatchEvents() {
	defer close(e.drained)
	ctx := context.Background()
	for ev := range e.events {
		e.notifier.Notify(ctx, ev)
	}
}

// Stop closes the fan-out stream and waits for queued events to drain.
// Transitions after Stop still commit but are no longer announced.
func (e *Engine) Stop() {
	if e.events == nil {
		return
	}
	e.mu.Lock()
	if !e.stopped {
		e.stopped = true
		close(e.events)
	}
	e.mu.Unlock()
	<-e.drained
}

// guardDecision validates that a reviewer action may touch the item at
// all. Already-decided items surface as "already handled"; expired items
// reject every action as an invalid transition.
func guardDecision(status domain.ItemStatus) error {
	switch status {
	case domain.ItemStatusPending, domain.ItemStatusEditing:
		return nil
	case domain.ItemStatusSent, domain.ItemStatusRejected:
		return ErrConflict
	default:
		return ErrInvalidTransition
	}
}

func clearEditLock(item *domain.ReviewItem) {
	item.EditorID = ""
	item.EditorName = ""
	item.EditingStartedAt = nil
}

func sortItemsNewestFirst(items []domain.ReviewItem) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
