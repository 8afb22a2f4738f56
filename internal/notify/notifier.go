// Package notify implements reviewer notification fan-out with actor
// self-exclusion and live-view status sync.
package notify

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/mttmxr-creator/BotAICurator/internal/domain"
	"github.com/mttmxr-creator/BotAICurator/internal/queue"
)

// Notifier fans state transitions out to the configured reviewers. The
// recipient set for a fresh notification is every reviewer minus the
// actor; reviewers already holding a live view of the item get that view
// updated in place regardless, so nobody is left looking at stale
// controls.
type Notifier struct {
	reviewers  *domain.ReviewerSet
	renderer   *Renderer
	dispatcher *Dispatcher
	views      *ViewRegistry
	clock      clockwork.Clock
}

// NewNotifier creates a notifier for the given reviewer set.
func NewNotifier(reviewers *domain.ReviewerSet, renderer *Renderer, dispatcher *Dispatcher, views *ViewRegistry, clock clockwork.Clock) *Notifier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Notifier{
		reviewers:  reviewers,
		renderer:   renderer,
		dispatcher: dispatcher,
		views:      views,
		clock:      clock,
	}
}

// Notify handles a completed state transition. Failures are logged;
// notification outcomes never feed back into item state.
func (n *Notifier) Notify(ctx context.Context, ev queue.Event) {
	kind, ok := kindForAction(ev.Action)
	if !ok {
		return
	}

	payload := n.buildPayload(kind, ev)
	n.fanOut(ctx, ev.Item, payload, ev.ActorID)
}

// Remind re-notifies reviewers about an item still waiting for a
// decision. Reminders do not exclude anyone: there is no actor.
func (n *Notifier) Remind(ctx context.Context, item domain.ReviewItem, count, maxCount int) {
	payload := Payload{
		Kind: KindReminder,
		Item: n.buildItemData(item),
		Reminder: &ReminderData{
			Count:   count,
			Max:     maxCount,
			Urgency: urgencyText(count),
		},
	}
	n.fanOut(ctx, item, payload, "")
}

func (n *Notifier) fanOut(ctx context.Context, item domain.ReviewItem, payload Payload, actorID string) {
	body, err := n.renderer.Render(payload)
	if err != nil {
		slog.Error("failed to render notification", "kind", payload.Kind, "item_id", item.ID, "error", err)
		recordNotification(payload.Kind, "render_error")
		return
	}

	msg := Message{
		Text:       body,
		ItemID:     item.ID,
		Actionable: payload.Actionable(),
	}

	// Status sync first: every reviewer with a live view of the item gets
	// it updated, the actor included. Their old message must not keep
	// offering controls for a state that no longer exists.
	views := n.views.Views(item.ID)
	for _, ref := range views {
		updateMsg := msg
		updateMsg.ChatID = ref.ChatID
		if err := n.dispatcher.Update(ctx, ref, updateMsg); err != nil {
			recordNotification(payload.Kind, "update_error")
			continue
		}
		recordNotification(payload.Kind, "updated")
	}

	// Fresh notifications go to everyone but the actor. Reviewers whose
	// view was just updated already see the new state.
	for _, reviewer := range n.reviewers.Excluding(actorID) {
		if _, seen := views[reviewer.ID]; seen {
			continue
		}

		sendMsg := msg
		sendMsg.ChatID = reviewer.ChatID

		ref, err := n.dispatcher.Send(ctx, sendMsg)
		if err != nil {
			recordNotification(payload.Kind, "send_error")
			continue
		}
		if ref != (MessageRef{}) {
			n.views.Register(item.ID, reviewer.ID, ref)
		}
		recordNotification(payload.Kind, "sent")
	}

	if item.Status.IsTerminal() {
		n.views.Drop(item.ID)
	}

	slog.Debug("notification fan-out complete",
		"kind", payload.Kind,
		"item_id", item.ID,
		"actor", actorID,
		"live_views", len(views),
	)
}

func (n *Notifier) buildPayload(kind MessageKind, ev queue.Event) Payload {
	return Payload{
		Kind:      kind,
		Item:      n.buildItemData(ev.Item),
		ActorName: ev.ActorName,
		QueueSize: ev.QueueSize,
	}
}

func (n *Notifier) buildItemData(item domain.ReviewItem) ItemData {
	return ItemData{
		ID:        item.ID,
		UserName:  item.UserDisplayName,
		Question:  item.OriginalInput,
		Answer:    item.Answer,
		Status:    string(item.Status),
		LockedBy:  item.EditorName,
		CreatedAt: item.CreatedAt,
		ExpiresAt: item.ExpiresAt,
		QueueAge:  n.clock.Now().Sub(item.CreatedAt),
		Reason:    item.RejectionReason,
	}
}

// kindForAction maps a state-machine action to a notification kind.
// Extend and remind produce no transition fan-out: extend changes no
// status, and reminders go through Remind.
func kindForAction(action domain.Action) (MessageKind, bool) {
	switch action {
	case domain.ActionSubmit:
		return KindSubmitted, true
	case domain.ActionBeginEdit:
		return KindEditing, true
	case domain.ActionCancelEdit:
		return KindEditCancelled, true
	case domain.ActionSubmitEdit:
		return KindEdited, true
	case domain.ActionApprove:
		return KindApproved, true
	case domain.ActionReject:
		return KindRejected, true
	case domain.ActionExpire:
		return KindExpired, true
	case domain.ActionExtend, domain.ActionRemind:
		return "", false
	default:
		return "", false
	}
}

func urgencyText(count int) string {
	switch count {
	case 1:
		return "An answer is waiting for review"
	case 2:
		return "An answer is still waiting for review"
	case 3:
		return "Urgent: an answer has been waiting for hours"
	default:
		return "Critical: an answer is close to expiring"
	}
}
