package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mttmxr-creator/BotAICurator/internal/domain"
)

type memStore struct {
	mu       sync.Mutex
	records  map[string]domain.ReviewItem
	failSave error
	saves    int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]domain.ReviewItem)}
}

func (s *memStore) Load(_ context.Context) (map[string]domain.ReviewItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.ReviewItem, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) Save(_ context.Context, items map[string]domain.ReviewItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.failSave != nil {
		return s.failSave
	}
	s.records = make(map[string]domain.ReviewItem, len(items))
	for k, v := range items {
		s.records[k] = v
	}
	return nil
}

type fakeDelivery struct {
	mu        sync.Mutex
	envelopes []domain.DeliveryEnvelope
	failWith  error
}

func (d *fakeDelivery) Enqueue(_ context.Context, env domain.DeliveryEnvelope) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return d.failWith
	}
	d.envelopes = append(d.envelopes, env)
	return nil
}

func (d *fakeDelivery) all() []domain.DeliveryEnvelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.DeliveryEnvelope(nil), d.envelopes...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	delays map[domain.Action]time.Duration
	events []Event
}

// delay makes Notify sleep before recording events for the given action,
// simulating a slow fan-out.
func (n *recordingNotifier) delay(action domain.Action, d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.delays == nil {
		n.delays = make(map[domain.Action]time.Duration)
	}
	n.delays[action] = d
}

func (n *recordingNotifier) Notify(_ context.Context, ev Event) {
	n.mu.Lock()
	d := n.delays[ev.Action]
	n.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) actions() []domain.Action {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.Action, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Action
	}
	return out
}

func (n *recordingNotifier) byAction(action domain.Action) []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Event
	for _, ev := range n.events {
		if ev.Action == action {
			out = append(out, ev)
		}
	}
	return out
}

func testReviewers() *domain.ReviewerSet {
	return domain.NewReviewerSet([]domain.Reviewer{
		{ID: "alice", Name: "Alice", ChatID: 100},
		{ID: "bob", Name: "Bob", ChatID: 200},
	})
}

type engineFixture struct {
	engine   *Engine
	store    *memStore
	delivery *fakeDelivery
	notifier *recordingNotifier
	clock    *clockwork.FakeClock
}

func newEngineFixture(t *testing.T, cfg Config) *engineFixture {
	t.Helper()

	store := newMemStore()
	delivery := &fakeDelivery{}
	notifier := &recordingNotifier{}
	clock := clockwork.NewFakeClock()

	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = time.Hour
	}
	if cfg.EditLockTTL == 0 {
		cfg.EditLockTTL = 10 * time.Minute
	}

	engine, err := NewEngine(context.Background(), cfg, store, testReviewers(), delivery, notifier, clock)
	require.NoError(t, err)

	return &engineFixture{
		engine:   engine,
		store:    store,
		delivery: delivery,
		notifier: notifier,
		clock:    clock,
	}
}

func (f *engineFixture) submit(t *testing.T) *domain.ReviewItem {
	t.Helper()
	item, err := f.engine.Submit(context.Background(), SubmitInput{
		ConversationID:  "conv-1",
		UserID:          "user-1",
		UserDisplayName: "Dana",
		OriginalInput:   "What is the refund policy?",
		Answer:          "Refunds are available within 30 days.",
	})
	require.NoError(t, err)
	return item
}

func TestEngine_Submit(t *testing.T) {
	f := newEngineFixture(t, Config{DefaultTimeout: 2 * time.Hour})

	item := f.submit(t)

	assert.Equal(t, domain.ItemStatusPending, item.Status)
	assert.Equal(t, item.Answer, item.OriginalAnswer)
	require.NotNil(t, item.ExpiresAt)
	assert.Equal(t, f.clock.Now().Add(2*time.Hour), *item.ExpiresAt)

	// Persisted before the call returned.
	persisted, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, persisted, item.ID)

	require.Eventually(t, func() bool {
		return len(f.notifier.byAction(domain.ActionSubmit)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestEngine_Submit_NoExpiry(t *testing.T) {
	f := newEngineFixture(t, Config{})

	item, err := f.engine.Submit(context.Background(), SubmitInput{
		ConversationID: "conv-1",
		UserID:         "user-1",
		OriginalInput:  "q",
		Answer:         "a",
		Timeout:        -1,
	})
	require.NoError(t, err)
	assert.Nil(t, item.ExpiresAt)
}

func TestEngine_Approve(t *testing.T) {
	f := newEngineFixture(t, Config{})
	item := f.submit(t)

	approved, err := f.engine.Approve(context.Background(), item.ID, "alice")
	require.NoError(t, err)

	assert.Equal(t, domain.ItemStatusSent, approved.Status)
	assert.Equal(t, "alice", approved.ModeratedBy)
	assert.Equal(t, "Alice", approved.ModeratedByName)
	require.NotNil(t, approved.ModeratedAt)

	envelopes := f.delivery.all()
	require.Len(t, envelopes, 1)
	assert.Equal(t, item.ID, envelopes[0].ItemID)
	assert.Equal(t, "conv-1", envelopes[0].ConversationID)
	assert.Equal(t, item.Answer, envelopes[0].Text)
	assert.Equal(t, domain.EnvelopeStatusPending, envelopes[0].Status)
}

func TestEngine_Approve_RacingDecisions(t *testing.T) {
	f := newEngineFixture(t, Config{})
	item := f.submit(t)

	_, err := f.engine.Approve(context.Background(), item.ID, "alice")
	require.NoError(t, err)

	// Bob's approve and reject both lose: the item is already handled.
	_, err = f.engine.Approve(context.Background(), item.ID, "bob")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.engine.Reject(context.Background(), item.ID, "bob", "")
	assert.ErrorIs(t, err, ErrConflict)

	// Only one envelope was released.
	assert.Len(t, f.delivery.all(), 1)
}

func TestEngine_Approve_UnknownReviewer(t *testing.T) {
	f := newEngineFixture(t, Config{})
	item := f.submit(t)

	_, err := f.engine.Approve(context.Background(), item.ID, "mallory")
	assert.ErrorIs(t, err, ErrUnknownReviewer)
}

func TestEngine_Approve_NotFound(t *testing.T) {
	f := newEngineFixture(t, Config{})

	_, err := f.engine.Approve(context.Background(), "missing", "alice")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestEngine_Approve_SaveFailureRollsBack(t *testing.T) {
	f := newEngineFixture(t, Config{})
	item := f.submit(t)

	f.store.failSave = errors.New("disk full")
	_, err := f.engine.Approve(context.Background(), item.ID, "alice")
	require.Error(t, err)

	f.store.failSave = nil
	current, err := f.engine.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusPending, current.Status)
	assert.Empty(t, f.delivery.all())
}

func TestEngine_Approve_EnqueueFailureRollsBack(t *testing.T) {
	f := newEngineFixture(t, Config{})
	item := f.submit(t)

	f.delivery.failWith = errors.New("delivery store down")
	_, err := f.engine.Approve(context.Background(), item.ID, "alice")
	require.Error(t, err)

	// The transition must not be partially applied: the item is still
	// pending and a later approve succeeds.
	f.delivery.failWith = nil
	current, err := f.engine.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusPending, current.Status)

	_, err = f.engine.Approve(context.Background(), item.ID, "bob")
	require.NoError(t, err)
	assert.Len(t, f.delivery.all(), 1)
}

func TestEngine_Reject(t *testing.T) {
	f := newEngineFixture(t, Config{})
	item := f.submit(t)

	rejected, err := f.engine.Reject(context.Background(), item.ID, "bob", "tone is off")
	require.NoError(t, err)

	assert.Equal(t, domain.ItemStatusRejected, rejected.Status)
	assert.Equal(t, "bob", rejected.ModeratedBy)
	assert.Equal(t, "tone is off", rejected.RejectionReason)
	assert.Empty(t, f.delivery.all())
}

func TestEngine_BeginEdit(t *testing.T) {
	f := newEngineFixture(t, Config{})
	item := f.submit(t)

	locked, err := f.engine.BeginEdit(context.Background(), item.ID, "alice")
	require.NoError(t, err)

	assert.Equal(t, domain.ItemStatusEditing, locked.Status)
	assert.Equal(t, "alice", locked.EditorID)
	require.NotNil(t, locked.EditingStartedAt)
}

func TestEngine_BeginEdit_LockContention(t *testing.T) {
	f := newEngineFixture(t, Config{EditLockTTL: 10 * time.Minute})
	item := f.submit(t)

	_, err := f.engine.BeginEdit(context.Background(), item.ID, "alice")
	require.NoError(t, err)

	// Another reviewer is refused while the lock is fresh.
	_, err = f.engine.BeginEdit(context.Background(), item.ID, "bob")
	assert.ErrorIs(t, err, ErrAlreadyLocked)

	// The holder may re-enter.
	again, err := f.engine.BeginEdit(context.Background(), item.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", again.EditorID)
}

func TestEngine_BeginEdit_StaleLockTakeover(t *testing.T) {
	f := newEngineFixture(t, Config{EditLockTTL: 10 * time.Minute})
	item := f.submit(t)

	_, err := f.engine.BeginEdit(context.Background(), item.ID, "alice")
	require.NoError(t, err)

	f.clock.Advance(11 * time.Minute)

	taken, err := f.engine.BeginEdit(context.Background(), item.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", taken.EditorID)
}

func TestEngine_CancelEdit(t *testing.T) {
	f := newEngineFixture(t, Config{})
	item := f.submit(t)

	_, err := f.engine.BeginEdit(context.Background(), item.ID, "alice")
	require.NoError(t, err)

	// Only the holder may cancel.
	_, err = f.engine.CancelEdit(context.Background(), item.ID, "bob")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	cancelled, err := f.engine.CancelEdit(context.Background(), item.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusPending, cancelled.Status)
	assert.Empty(t, cancelled.EditorID)
	assert.Equal(t, item.Answer, cancelled.Answer)
}

func TestEngine_CancelEdit_NotEditing(t *testing.T) {
	f := newEngineFixture(t, Config{})
	item := f.submit(t)

	_, err := f.engine.CancelEdit(context.Background(), item.ID, "alice")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestEngine_SubmitEdit(t *testing.T) {
	f := newEngineFixture(t, Config{})
	item := f.submit(t)

	_, err := f.engine.BeginEdit(context.Background(), item.ID, "alice")
	require.NoError(t, err)

	edited, err := f.engine.SubmitEdit(context.Background(), item.ID, "alice", "Refunds are available within 14 days.")
	require.NoError(t, err)

	assert.Equal(t, domain.ItemStatusPending, edited.Status)
	assert.Equal(t, "Refunds are available within 14 days.", edited.Answer)
	assert.Equal(t, item.OriginalAnswer, edited.OriginalAnswer)
	assert.Empty(t, edited.EditorID)

	// Approval delivers the edited text.
	_, err = f.engine.Approve(context.Background(), item.ID, "bob")
	require.NoError(t, err)
	envelopes := f.delivery.all()
	require.Len(t, envelopes, 1)
	assert.Equal(t, "Refunds are available within 14 days.", envelopes[0].Text)
}

func TestEngine_ApproveWhileEditing(t *testing.T) {
	f := newEngineFixture(t, Config{})
	item := f.submit(t)

	_, err := f.engine.BeginEdit(context.Background(), item.ID, "alice")
	require.NoError(t, err)

	// A decision overrides an in-progress edit; the lock is cleared.
	approved, err := f.engine.Approve(context.Background(), item.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusSent, approved.Status)
	assert.Empty(t, approved.EditorID)
}

func TestEngine_ExtendTimeout(t *testing.T) {
	f := newEngineFixture(t, Config{DefaultTimeout: time.Hour})
	item := f.submit(t)
	firstDeadline := *item.ExpiresAt

	extended, err := f.engine.ExtendTimeout(context.Background(), item.ID, "alice", 30*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, extended.ExpiresAt)
	assert.Equal(t, firstDeadline.Add(30*time.Minute), *extended.ExpiresAt)
	assert.Equal(t, domain.ItemStatusPending, extended.Status)
}

func TestEngine_ExpireOverdue(t *testing.T) {
	f := newEngineFixture(t, Config{DefaultTimeout: time.Hour})
	item := f.submit(t)

	// Not yet due.
	expired, err := f.engine.ExpireOverdue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, expired)

	f.clock.Advance(61 * time.Minute)

	expired, err = f.engine.ExpireOverdue(context.Background())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, domain.ItemStatusExpired, expired[0].Status)

	// Every action against an expired item is refused.
	_, err = f.engine.Approve(context.Background(), item.ID, "alice")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.engine.Reject(context.Background(), item.ID, "alice", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.engine.BeginEdit(context.Background(), item.ID, "alice")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.engine.ExtendTimeout(context.Background(), item.ID, "alice", time.Minute)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Empty(t, f.delivery.all())
}

func TestEngine_ExtendPreventsExpiry(t *testing.T) {
	f := newEngineFixture(t, Config{DefaultTimeout: time.Hour})
	item := f.submit(t)

	f.clock.Advance(50 * time.Minute)
	_, err := f.engine.ExtendTimeout(context.Background(), item.ID, "alice", time.Hour)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	expired, err := f.engine.ExpireOverdue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, expired)

	current, err := f.engine.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusPending, current.Status)
}

func TestEngine_ExpireOverridesEditLock(t *testing.T) {
	f := newEngineFixture(t, Config{DefaultTimeout: time.Hour})
	item := f.submit(t)

	_, err := f.engine.BeginEdit(context.Background(), item.ID, "alice")
	require.NoError(t, err)

	// Editing items still expire once overdue; the lock does not keep an
	// item alive past its deadline.
	f.clock.Advance(2 * time.Hour)
	expired, err := f.engine.ExpireOverdue(context.Background())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Empty(t, expired[0].EditorID)
}

func TestEngine_DueForReminder_Escalation(t *testing.T) {
	f := newEngineFixture(t, Config{DefaultTimeout: 24 * time.Hour})
	item := f.submit(t)

	interval := 30 * time.Minute

	assert.Empty(t, f.engine.DueForReminder(interval, 4))

	f.clock.Advance(31 * time.Minute)
	due := f.engine.DueForReminder(interval, 4)
	require.Len(t, due, 1)

	require.NoError(t, f.engine.MarkReminded(context.Background(), []string{item.ID}))

	// The second reminder waits twice the interval.
	f.clock.Advance(31 * time.Minute)
	assert.Empty(t, f.engine.DueForReminder(interval, 4))

	f.clock.Advance(30 * time.Minute)
	due = f.engine.DueForReminder(interval, 4)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].ReminderCount)
}

func TestEngine_DueForReminder_SkipsEditingAndCapped(t *testing.T) {
	f := newEngineFixture(t, Config{DefaultTimeout: 24 * time.Hour})
	item := f.submit(t)

	_, err := f.engine.BeginEdit(context.Background(), item.ID, "alice")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	assert.Empty(t, f.engine.DueForReminder(30*time.Minute, 4))

	_, err = f.engine.CancelEdit(context.Background(), item.ID, "alice")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, f.engine.MarkReminded(context.Background(), []string{item.ID}))
	}
	f.clock.Advance(100 * time.Hour)
	assert.Empty(t, f.engine.DueForReminder(30*time.Minute, 4))
}

func TestEngine_List(t *testing.T) {
	f := newEngineFixture(t, Config{})

	first := f.submit(t)
	f.clock.Advance(time.Minute)
	second := f.submit(t)

	_, err := f.engine.Approve(context.Background(), second.ID, "alice")
	require.NoError(t, err)

	all := f.engine.List("")
	require.Len(t, all, 2)
	// Newest first.
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)

	pending := f.engine.List(domain.ItemStatusPending)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)
}

func TestEngine_GetStats(t *testing.T) {
	f := newEngineFixture(t, Config{DefaultTimeout: time.Hour})

	a := f.submit(t)
	b := f.submit(t)
	f.submit(t)

	_, err := f.engine.Approve(context.Background(), a.ID, "alice")
	require.NoError(t, err)
	_, err = f.engine.BeginEdit(context.Background(), b.ID, "bob")
	require.NoError(t, err)

	stats := f.engine.GetStats()
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Editing)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 0, stats.Expired)
}

func TestEngine_LoadsPersistedItems(t *testing.T) {
	store := newMemStore()
	now := time.Now().UTC()
	store.records["item-1"] = domain.ReviewItem{
		ID:             "item-1",
		ConversationID: "conv-1",
		UserID:         "user-1",
		OriginalInput:  "q",
		Answer:         "a",
		OriginalAnswer: "a",
		Status:         domain.ItemStatusPending,
		CreatedAt:      now,
	}

	engine, err := NewEngine(context.Background(), Config{}, store, testReviewers(), &fakeDelivery{}, &recordingNotifier{}, clockwork.NewFakeClock())
	require.NoError(t, err)

	item, err := engine.Get("item-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusPending, item.Status)
}

func TestEngine_NotificationsCarryActor(t *testing.T) {
	f := newEngineFixture(t, Config{})
	item := f.submit(t)

	_, err := f.engine.Approve(context.Background(), item.ID, "alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.notifier.byAction(domain.ActionApprove)) == 1
	}, time.Second, 10*time.Millisecond)

	ev := f.notifier.byAction(domain.ActionApprove)[0]
	assert.Equal(t, "alice", ev.ActorID)
	assert.Equal(t, "Alice", ev.ActorName)
	assert.Equal(t, domain.ItemStatusSent, ev.Item.Status)
}

func TestEngine_FanOutFollowsTransitionOrder(t *testing.T) {
	f := newEngineFixture(t, Config{})
	item := f.submit(t)

	// A slow fan-out must delay later ones, never let them overtake:
	// an edit-lock announcement landing after the approval would
	// re-send controls for an already sent item.
	f.notifier.delay(domain.ActionBeginEdit, 50*time.Millisecond)

	_, err := f.engine.BeginEdit(context.Background(), item.ID, "alice")
	require.NoError(t, err)
	_, err = f.engine.Approve(context.Background(), item.ID, "alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.notifier.actions()) == 3
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, []domain.Action{
		domain.ActionSubmit,
		domain.ActionBeginEdit,
		domain.ActionApprove,
	}, f.notifier.actions())
}

func TestEngine_StopDrainsPendingFanOuts(t *testing.T) {
	f := newEngineFixture(t, Config{})
	f.notifier.delay(domain.ActionSubmit, 20*time.Millisecond)

	item := f.submit(t)
	_, err := f.engine.Approve(context.Background(), item.ID, "alice")
	require.NoError(t, err)

	f.engine.Stop()

	assert.Equal(t, []domain.Action{
		domain.ActionSubmit,
		domain.ActionApprove,
	}, f.notifier.actions())

	// Transitions after Stop still commit but are not announced.
	f.submit(t)
	assert.Len(t, f.notifier.actions(), 2)
}
