package snitch

import "time"

// TargetKind is fixed at resolution time and determines how the dispatcher
// expands the target into concrete sends.
type TargetKind string

const (
	KindDirectRecipient  TargetKind = "member"
	KindRoleGroup        TargetKind = "role"
	KindBroadcastChannel TargetKind = "channel"
)

func (k TargetKind) Valid() bool {
	switch k {
	case KindDirectRecipient, KindRoleGroup, KindBroadcastChannel:
		return true
	}
	return false
}

// Target is a resolved notification recipient. ID is the platform
// identifier captured at configuration time; a stale ID is skipped at
// dispatch time, not treated as an error.
type Target struct {
	ID   int64      `json:"id"`
	Kind TargetKind `json:"kind"`
}

// Group is one named notification group within a scope.
// A group with no words never matches; a group with no targets produces no
// deliveries even on a match.
type Group struct {
	Words   []string          `json:"words"`
	Targets map[string]Target `json:"targets"` // display key -> resolved target
	Message string            `json:"message,omitempty"`
}

func NewGroup() *Group {
	return &Group{Targets: map[string]Target{}}
}

// AddWord appends w unless already present (case-sensitive, as configured).
// Reports whether the set changed.
func (g *Group) AddWord(w string) bool {
	for _, have := range g.Words {
		if have == w {
			return false
		}
	}
	g.Words = append(g.Words, w)
	return true
}

// RemoveWord reports whether w was present.
func (g *Group) RemoveWord(w string) bool {
	for i, have := range g.Words {
		if have == w {
			g.Words = append(g.Words[:i], g.Words[i+1:]...)
			return true
		}
	}
	return false
}

// OutcomeStatus classifies one attempted send.
type OutcomeStatus string

const (
	OutcomeSent    OutcomeStatus = "sent"
	OutcomeFailed  OutcomeStatus = "failed"  // terminal or retry-exhausted
	OutcomeSkipped OutcomeStatus = "skipped" // entity gone or bot recipient; no send attempted
)

// Outcome is the per-send result. Produced by the dispatcher, consumed by
// logging and the digest; never persisted.
type Outcome struct {
	Target      Target
	RecipientID int64 // concrete endpoint after role expansion
	Status      OutcomeStatus
	Err         error
}

// Summary aggregates one dispatch batch.
type Summary struct {
	Attempted int
	Sent      int
	Failed    int
	Skipped   int
	Outcomes  []Outcome
}

// Stats is a point-in-time view of the limiter, for the rate command and
// the digest. Remaining/ResetAt mirror the last server-reported quota and
// never influence gating; Remaining stays -1 until a quota is reported.
type Stats struct {
	RecentSends   int
	MaxPerSecond  int
	MaxConcurrent int
	Available     int
	Remaining     int
	ResetAt       time.Time
}
