// Package ballot collects, validates and tallies elimination votes. The vote
// ledger is append-only and guarded by its own mutex so observers can read
// past rounds while a new round is being collected.
package ballot

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"mafiasim/internal/config"
	"mafiasim/internal/decision"
	"mafiasim/internal/domain"
)

// Voter pairs a living agent with its policy for one voting round.
type Voter struct {
	Agent  domain.Agent
	Policy decision.Policy
	Memory domain.Memory
}

// Result is the outcome of one voting round. EliminatedID is NoTarget when
// the round eliminates nobody (tie under no-elimination policy, or no valid
// votes at all).
type Result struct {
	Round        int
	Votes        []domain.Vote
	Tally        map[int]int
	EliminatedID int
	Tied         bool
}

// Invalid vote reasons recorded on the ledger.
const (
	ReasonSelfVote      = "self_vote"
	ReasonUnknownTarget = "dead_or_unknown_target"
	ReasonTimeout       = "timeout"
	ReasonFailed        = "generation_failure"
	ReasonUnparseable   = "unparseable_reply"
)

// Engine runs voting rounds and keeps the ledger.
type Engine struct {
	Timeout  time.Duration
	TieBreak string
	Rand     *rand.Rand
	Logger   *log.Logger

	mu     sync.Mutex
	ledger []domain.Vote
}

func New(timeout time.Duration, tieBreak string, seed int64) *Engine {
	return &Engine{
		Timeout:  timeout,
		TieBreak: tieBreak,
		Rand:     rand.New(rand.NewSource(seed)),
	}
}

func (e *Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

type castResult struct {
	voterID int
	target  int
	err     error
}

// Round collects one vote per living voter concurrently, validates them, and
// tallies. Every voter gets exactly one ledger entry, valid or not.
func (e *Engine) Round(ctx context.Context, round int, living []domain.Agent, transcript []domain.Message, voters []Voter) Result {
	alive := make(map[int]bool, len(living))
	for _, a := range living {
		alive[a.ID] = true
	}

	results := make(chan castResult, len(voters))
	for _, v := range voters {
		go func(v Voter) {
			callCtx, cancel := context.WithTimeout(ctx, e.Timeout)
			defer cancel()
			target, err := v.Policy.CastVote(callCtx, decision.View{
				Phase:  domain.PhaseVoting,
				Round:  round,
				Self:   v.Agent,
				Living: living,
				Log:    transcript,
				Memory: v.Memory,
			})
			results <- castResult{voterID: v.Agent.ID, target: target, err: err}
		}(v)
	}

	votes := make([]domain.Vote, 0, len(voters))
	for range voters {
		res := <-results
		votes = append(votes, e.validate(round, res, alive))
	}
	// Collection order is scheduling-dependent; the ledger is not.
	sort.Slice(votes, func(i, j int) bool { return votes[i].VoterID < votes[j].VoterID })

	result := Result{Round: round, Votes: votes, Tally: map[int]int{}, EliminatedID: domain.NoTarget}
	for _, v := range votes {
		if v.Valid {
			result.Tally[v.TargetID]++
		}
	}
	result.EliminatedID, result.Tied = e.decide(result.Tally)

	e.mu.Lock()
	e.ledger = append(e.ledger, votes...)
	e.mu.Unlock()
	return result
}

func (e *Engine) validate(round int, res castResult, alive map[int]bool) domain.Vote {
	vote := domain.Vote{Round: round, VoterID: res.voterID, TargetID: res.target}
	switch {
	case errors.Is(res.err, context.DeadlineExceeded):
		vote.TargetID = domain.NoTarget
		vote.Reason = ReasonTimeout
	case errors.Is(res.err, decision.ErrNoCandidate):
		vote.TargetID = domain.NoTarget
		vote.Reason = ReasonUnparseable
	case res.err != nil:
		vote.TargetID = domain.NoTarget
		vote.Reason = ReasonFailed
	case res.target == res.voterID:
		vote.Reason = ReasonSelfVote
	case !alive[res.target]:
		vote.Reason = ReasonUnknownTarget
	default:
		vote.Valid = true
	}
	if !vote.Valid {
		e.logger().Printf("round %d: invalid vote by agent %d: %s", round, res.voterID, vote.Reason)
	}
	return vote
}

// decide picks the eliminated agent from the tally. Ties follow the
// configured policy: a seeded random pick among the leaders, or nobody.
func (e *Engine) decide(tally map[int]int) (int, bool) {
	if len(tally) == 0 {
		return domain.NoTarget, false
	}
	max := 0
	for _, n := range tally {
		if n > max {
			max = n
		}
	}
	var leaders []int
	for id, n := range tally {
		if n == max {
			leaders = append(leaders, id)
		}
	}
	sort.Ints(leaders)
	if len(leaders) == 1 {
		return leaders[0], false
	}
	if e.TieBreak == config.TieBreakNoElimination {
		return domain.NoTarget, true
	}
	return leaders[e.Rand.Intn(len(leaders))], true
}

// Ledger returns a copy of every vote recorded so far.
func (e *Engine) Ledger() []domain.Vote {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Vote, len(e.ledger))
	copy(out, e.ledger)
	return out
}

// ForRound returns the ledger entries of one round.
func (e *Engine) ForRound(round int) []domain.Vote {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.Vote
	for _, v := range e.ledger {
		if v.Round == round {
			out = append(out, v)
		}
	}
	return out
}
