package domain

// Reviewer is an authorized human actor who can transition review items.
// All reviewers are peers: everyone has equal authority over every item.
type Reviewer struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ChatID        int64  `json:"chat_id"`         // notification transport destination
	AccessKeyHash string `json:"access_key_hash"` // bcrypt hash, used for token exchange
}

// ReviewerSet is the configured set of reviewers, injected at construction
// rather than read from process-wide state.
type ReviewerSet struct {
	reviewers []Reviewer
	byID      map[string]Reviewer
}

// NewReviewerSet builds a set from the configured reviewers.
func NewReviewerSet(reviewers []Reviewer) *ReviewerSet {
	byID := make(map[string]Reviewer, len(reviewers))
	for _, r := range reviewers {
		byID[r.ID] = r
	}
	return &ReviewerSet{reviewers: reviewers, byID: byID}
}

// All returns every configured reviewer.
func (s *ReviewerSet) All() []Reviewer {
	return s.reviewers
}

// Get looks up a reviewer by id.
func (s *ReviewerSet) Get(id string) (Reviewer, bool) {
	r, ok := s.byID[id]
	return r, ok
}

// Contains checks if the id belongs to a configured reviewer.
func (s *ReviewerSet) Contains(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// Excluding returns every reviewer except the given actor. An empty
// actor id (system-originated event) excludes nobody.
func (s *ReviewerSet) Excluding(actorID string) []Reviewer {
	if actorID == "" {
		return s.reviewers
	}
	out := make([]Reviewer, 0, len(s.reviewers))
	for _, r := range s.reviewers {
		if r.ID == actorID {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Len returns the number of configured reviewers.
func (s *ReviewerSet) Len() int {
	return len(s.reviewers)
}
