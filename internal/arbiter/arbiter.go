// Package arbiter runs the speak arbitration for one discussion tick: every
// living agent evaluates its urge to speak concurrently, and at most one
// winner gets to compose and append a message.
package arbiter

import (
	"context"
	"log"
	"time"

	"mafiasim/internal/convo"
	"mafiasim/internal/decision"
	"mafiasim/internal/domain"
)

// Participant pairs a living agent with its policy and memory for one tick.
type Participant struct {
	Agent  domain.Agent
	Policy decision.Policy
	Memory domain.Memory
}

// TickReport is the outcome of one arbitration round, consumed by the
// session for stats and diagnostics.
type TickReport struct {
	Round     int
	Tick      int
	SpeakerID int // NoTarget when the tick ended in silence
	Body      string
	Intents   map[int]float64 // urgency per agent that answered in time
	Passes    []int
	Failures  []int
	Stale     int
}

// Spoke reports whether the tick produced an utterance.
func (r TickReport) Spoke() bool { return r.SpeakerID != domain.NoTarget }

// Arbitrator owns tick-level turn-taking. It never mutates game state other
// than appending the winner's message to the log.
type Arbitrator struct {
	Log       *convo.Log
	Threshold float64
	Timeout   time.Duration
	Logger    *log.Logger
}

func New(log *convo.Log, threshold float64, timeout time.Duration) *Arbitrator {
	return &Arbitrator{Log: log, Threshold: threshold, Timeout: timeout}
}

func (a *Arbitrator) logger() *log.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return log.Default()
}

type intentResult struct {
	round   int
	tick    int
	agentID int
	intent  decision.Intent
	err     error
}

// Tick evaluates all participants concurrently against the same log snapshot
// and commits at most one utterance. Evaluations that miss the deadline are
// stamped and dropped; a failed or timed-out evaluation is a pass, never an
// error of the tick itself.
func (a *Arbitrator) Tick(ctx context.Context, round, tick int, living []domain.Agent, parts []Participant) TickReport {
	report := TickReport{Round: round, Tick: tick, SpeakerID: domain.NoTarget, Intents: map[int]float64{}}
	snapshot := a.Log.Snapshot()

	// The channel buffers one slot per participant, so late goroutines
	// deliver without blocking and the undrained results simply expire
	// with the channel.
	results := make(chan intentResult, len(parts))
	for _, part := range parts {
		go func(part Participant) {
			callCtx, cancel := context.WithTimeout(ctx, a.Timeout)
			defer cancel()
			view := decision.View{
				Phase:  domain.PhaseDiscussion,
				Round:  round,
				Tick:   tick,
				Self:   part.Agent,
				Living: living,
				Log:    snapshot,
				Memory: part.Memory,
			}
			intent, err := part.Policy.EvaluateIntent(callCtx, view)
			results <- intentResult{round: round, tick: tick, agentID: part.Agent.ID, intent: intent, err: err}
		}(part)
	}

	// Grace on top of the per-call timeout so punctual results are never
	// dropped by scheduling jitter.
	deadline := time.NewTimer(a.Timeout + 100*time.Millisecond)
	defer deadline.Stop()
	collected := make([]intentResult, 0, len(parts))
collect:
	for range parts {
		select {
		case res := <-results:
			collected = append(collected, res)
		case <-deadline.C:
			break collect
		}
	}
	// Everyone who missed the collection window is stale, whether the
	// result is still in flight or already sitting in the buffer.
	report.Stale = len(parts) - len(collected)

	var winner *intentResult
	for i := range collected {
		res := &collected[i]
		if res.round != round || res.tick != tick {
			report.Stale++
			continue
		}
		if res.err != nil {
			a.logger().Printf("round %d tick %d: agent %d intent failed: %v", round, tick, res.agentID, res.err)
			report.Failures = append(report.Failures, res.agentID)
			continue
		}
		if res.intent.Pass {
			report.Passes = append(report.Passes, res.agentID)
			continue
		}
		report.Intents[res.agentID] = res.intent.Urgency
		if res.intent.Urgency < a.Threshold {
			continue
		}
		if winner == nil ||
			res.intent.Urgency > winner.intent.Urgency ||
			(res.intent.Urgency == winner.intent.Urgency && res.agentID < winner.agentID) {
			winner = res
		}
	}

	if winner == nil {
		return report
	}

	speaker, part, ok := findParticipant(parts, winner.agentID)
	if !ok {
		return report
	}
	composeCtx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()
	body, err := part.Policy.Compose(composeCtx, decision.View{
		Phase:  domain.PhaseDiscussion,
		Round:  round,
		Tick:   tick,
		Self:   speaker,
		Living: living,
		Log:    snapshot,
		Memory: part.Memory,
	})
	if err != nil || body == "" {
		a.logger().Printf("round %d tick %d: agent %d compose failed: %v", round, tick, winner.agentID, err)
		report.Failures = append(report.Failures, winner.agentID)
		return report
	}

	a.Log.Append(convo.Candidate{
		Round:    round,
		Tick:     tick,
		Kind:     domain.MessagePlayer,
		AuthorID: speaker.ID,
		Author:   speaker.Name,
		Body:     body,
	})
	report.SpeakerID = speaker.ID
	report.Body = body
	return report
}

func findParticipant(parts []Participant, id int) (domain.Agent, Participant, bool) {
	for _, p := range parts {
		if p.Agent.ID == id {
			return p.Agent, p, true
		}
	}
	return domain.Agent{}, Participant{}, false
}
