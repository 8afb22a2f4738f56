package domain

// Action identifies a state-machine event on a review item. It is a
// closed set: consumers switch over it exhaustively instead of routing
// on raw callback strings.
type Action string

// Actions.
const (
	ActionSubmit     Action = "submit"
	ActionBeginEdit  Action = "begin_edit"
	ActionCancelEdit Action = "cancel_edit"
	ActionSubmitEdit Action = "submit_edit"
	ActionApprove    Action = "approve"
	ActionReject     Action = "reject"
	ActionExpire     Action = "expire"
	ActionExtend     Action = "extend"
	ActionRemind     Action = "remind"
)

// IsValid checks if the action is one of the known actions.
func (a Action) IsValid() bool {
	switch a {
	case ActionSubmit, ActionBeginEdit, ActionCancelEdit, ActionSubmitEdit,
		ActionApprove, ActionReject, ActionExpire, ActionExtend, ActionRemind:
		return true
	}
	return false
}
