package arbiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"mafiasim/internal/convo"
	"mafiasim/internal/decision"
	"mafiasim/internal/domain"
)

// fakePolicy answers with fixed urgency and body. With ignoreCtx set it
// sleeps through the deadline the way a stuck policy would.
type fakePolicy struct {
	urgency   float64
	pass      bool
	body      string
	evalErr   error
	compErr   error
	delay     time.Duration
	ignoreCtx bool
}

func (f *fakePolicy) EvaluateIntent(ctx context.Context, _ decision.View) (decision.Intent, error) {
	if f.delay > 0 {
		if f.ignoreCtx {
			time.Sleep(f.delay)
		} else {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return decision.Intent{}, ctx.Err()
			}
		}
	}
	return decision.Intent{Urgency: f.urgency, Pass: f.pass}, f.evalErr
}

func (f *fakePolicy) Compose(context.Context, decision.View) (string, error) {
	return f.body, f.compErr
}

func (f *fakePolicy) CastVote(context.Context, decision.View) (int, error) {
	return domain.NoTarget, nil
}

func (f *fakePolicy) AuthorWill(context.Context, decision.View) (string, error) {
	return "", nil
}

func (f *fakePolicy) ProposeWillEdit(context.Context, decision.View, domain.Will) (string, bool, error) {
	return "", false, nil
}

func participants(policies map[int]*fakePolicy) ([]domain.Agent, []Participant) {
	names := map[int]string{0: "Aryan", 1: "Jay", 2: "Navya"}
	var agents []domain.Agent
	var parts []Participant
	for id := 0; id < 3; id++ {
		a := domain.Agent{ID: id, Name: names[id], Role: domain.RoleVillager, Alive: true}
		agents = append(agents, a)
		parts = append(parts, Participant{Agent: a, Policy: policies[id]})
	}
	return agents, parts
}

func TestTickHighestUrgencyWins(t *testing.T) {
	log := convo.NewLog()
	a := New(log, 0.25, time.Second)
	agents, parts := participants(map[int]*fakePolicy{
		0: {urgency: 0.4, body: "zero"},
		1: {urgency: 0.9, body: "one"},
		2: {urgency: 0.6, body: "two"},
	})

	report := a.Tick(context.Background(), 1, 1, agents, parts)
	if report.SpeakerID != 1 {
		t.Fatalf("expected agent 1 to win, got %d", report.SpeakerID)
	}
	msgs := log.Snapshot()
	if len(msgs) != 1 || msgs[0].Body != "one" || msgs[0].AuthorID != 1 {
		t.Fatalf("unexpected log: %+v", msgs)
	}
}

func TestTickTieGoesToLowestID(t *testing.T) {
	log := convo.NewLog()
	a := New(log, 0.25, time.Second)
	agents, parts := participants(map[int]*fakePolicy{
		0: {urgency: 0.7, body: "zero"},
		1: {urgency: 0.7, body: "one"},
		2: {urgency: 0.7, body: "two"},
	})

	report := a.Tick(context.Background(), 1, 1, agents, parts)
	if report.SpeakerID != 0 {
		t.Fatalf("tie should resolve to lowest id, got %d", report.SpeakerID)
	}
}

func TestTickBelowThresholdIsSilence(t *testing.T) {
	log := convo.NewLog()
	a := New(log, 0.5, time.Second)
	agents, parts := participants(map[int]*fakePolicy{
		0: {urgency: 0.1},
		1: {urgency: 0.2},
		2: {urgency: 0.3},
	})

	report := a.Tick(context.Background(), 1, 1, agents, parts)
	if report.Spoke() {
		t.Fatalf("expected silence, got speaker %d", report.SpeakerID)
	}
	if log.Len() != 0 {
		t.Fatalf("silence must not append, log has %d messages", log.Len())
	}
	if len(report.Intents) != 3 {
		t.Fatalf("all intents should still be reported, got %d", len(report.Intents))
	}
}

func TestTickFailedEvaluationIsAPass(t *testing.T) {
	log := convo.NewLog()
	a := New(log, 0.25, time.Second)
	agents, parts := participants(map[int]*fakePolicy{
		0: {evalErr: errors.New("model unavailable")},
		1: {urgency: 0.6, body: "one"},
		2: {pass: true},
	})

	report := a.Tick(context.Background(), 1, 1, agents, parts)
	if report.SpeakerID != 1 {
		t.Fatalf("healthy agent should still win, got %d", report.SpeakerID)
	}
	if len(report.Failures) != 1 || report.Failures[0] != 0 {
		t.Fatalf("unexpected failures: %v", report.Failures)
	}
	if len(report.Passes) != 1 || report.Passes[0] != 2 {
		t.Fatalf("unexpected passes: %v", report.Passes)
	}
}

func TestTickSlowEvaluationTimesOut(t *testing.T) {
	log := convo.NewLog()
	a := New(log, 0.25, 50*time.Millisecond)
	agents, parts := participants(map[int]*fakePolicy{
		0: {urgency: 0.9, body: "slow", delay: 2 * time.Second},
		1: {urgency: 0.4, body: "one"},
		2: {urgency: 0.3, body: "two"},
	})

	start := time.Now()
	report := a.Tick(context.Background(), 1, 1, agents, parts)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("tick should not wait for the slow agent, took %s", elapsed)
	}
	if report.SpeakerID != 1 {
		t.Fatalf("expected agent 1, got %d", report.SpeakerID)
	}
	if len(report.Failures) != 1 || report.Failures[0] != 0 {
		t.Fatalf("slow agent should be a failure: %v", report.Failures)
	}
}

func TestTickLateResultCountsStale(t *testing.T) {
	log := convo.NewLog()
	a := New(log, 0.25, 50*time.Millisecond)
	agents, parts := participants(map[int]*fakePolicy{
		0: {urgency: 0.9, body: "late", delay: 500 * time.Millisecond, ignoreCtx: true},
		1: {urgency: 0.4, body: "one"},
		2: {urgency: 0.3, body: "two"},
	})

	report := a.Tick(context.Background(), 1, 1, agents, parts)
	if report.Stale != 1 {
		t.Fatalf("late delivery must count stale exactly once, got %d", report.Stale)
	}
	if len(report.Failures) != 0 {
		t.Fatalf("a stale agent is not a failure: %v", report.Failures)
	}
	if report.SpeakerID != 1 {
		t.Fatalf("punctual agent should win, got %d", report.SpeakerID)
	}
}

func TestTickComposeFailureAppendsNothing(t *testing.T) {
	log := convo.NewLog()
	a := New(log, 0.25, time.Second)
	agents, parts := participants(map[int]*fakePolicy{
		0: {urgency: 0.9, compErr: errors.New("boom")},
		1: {urgency: 0.4, body: "one"},
		2: {pass: true},
	})

	report := a.Tick(context.Background(), 1, 1, agents, parts)
	if report.Spoke() {
		t.Fatalf("compose failure must end in silence, got %d", report.SpeakerID)
	}
	if log.Len() != 0 {
		t.Fatalf("log must stay empty, has %d", log.Len())
	}
}
