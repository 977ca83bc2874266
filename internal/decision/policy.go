// Package decision holds the per-agent strategic logic: when to speak, what
// to say, whom to vote for, and what to leave behind. Policies only ever see
// immutable snapshots; all shared-state mutation stays in the engine.
package decision

import (
	"context"

	"mafiasim/internal/domain"
)

// View is the read-only game state handed to a policy for one evaluation.
// Log is a point-in-time snapshot; mutating it affects nobody.
type View struct {
	Phase  domain.Phase
	Round  int
	Tick   int
	Self   domain.Agent
	Living []domain.Agent
	Log    []domain.Message
	Memory domain.Memory
}

// Intent is a policy's self-reported urge to speak this tick.
type Intent struct {
	// Urgency is in [0,1]. The arbitrator commits the strictly highest
	// urgency above the session threshold.
	Urgency float64
	// Pass declines the tick outright regardless of urgency.
	Pass bool
}

// Policy is the capability set of one agent. Evaluations may block on the
// external generation service; callers bound them with a context deadline.
// Utterance text is only materialized for the arbitration winner, so
// EvaluateIntent must stay cheap relative to Compose.
type Policy interface {
	EvaluateIntent(ctx context.Context, v View) (Intent, error)
	Compose(ctx context.Context, v View) (string, error)
	CastVote(ctx context.Context, v View) (int, error)
	AuthorWill(ctx context.Context, v View) (string, error)
	// ProposeWillEdit offers a covert rewrite of a pending will. ok=false
	// declines the window.
	ProposeWillEdit(ctx context.Context, v View, w domain.Will) (text string, ok bool, err error)
}
