package ballot

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mafiasim/internal/config"
	"mafiasim/internal/decision"
	"mafiasim/internal/domain"
	"mafiasim/internal/personality"
	"mafiasim/internal/textgen"
)

// voterStub casts a fixed target or fails.
type voterStub struct {
	target int
	err    error
	delay  time.Duration
}

func (s *voterStub) CastVote(ctx context.Context, _ decision.View) (int, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return domain.NoTarget, ctx.Err()
		}
	}
	return s.target, s.err
}

func (s *voterStub) EvaluateIntent(context.Context, decision.View) (decision.Intent, error) {
	return decision.Intent{}, nil
}
func (s *voterStub) Compose(context.Context, decision.View) (string, error)    { return "", nil }
func (s *voterStub) AuthorWill(context.Context, decision.View) (string, error) { return "", nil }
func (s *voterStub) ProposeWillEdit(context.Context, decision.View, domain.Will) (string, bool, error) {
	return "", false, nil
}

func setup(targets map[int]*voterStub) ([]domain.Agent, []Voter) {
	names := map[int]string{0: "Aryan", 1: "Jay", 2: "Navya", 3: "Khushi"}
	var living []domain.Agent
	var voters []Voter
	for id := 0; id < len(targets); id++ {
		a := domain.Agent{ID: id, Name: names[id], Role: domain.RoleVillager, Alive: true}
		living = append(living, a)
		voters = append(voters, Voter{Agent: a, Policy: targets[id]})
	}
	return living, voters
}

func TestRoundMajorityEliminates(t *testing.T) {
	living, voters := setup(map[int]*voterStub{
		0: {target: 2},
		1: {target: 2},
		2: {target: 0},
		3: {target: 2},
	})
	e := New(time.Second, config.TieBreakSeeded, 1)
	res := e.Round(context.Background(), 1, living, nil, voters)

	assert.Equal(t, 2, res.EliminatedID)
	assert.False(t, res.Tied)
	assert.Equal(t, 3, res.Tally[2])
	assert.Equal(t, 1, res.Tally[0])
}

func TestRoundEveryVoterGetsALedgerEntry(t *testing.T) {
	living, voters := setup(map[int]*voterStub{
		0: {target: 0},                        // self vote
		1: {target: 99},                       // unknown target
		2: {err: decision.ErrNoCandidate},     // unparseable
		3: {target: 1, delay: 2 * time.Second}, // timeout
	})
	e := New(50*time.Millisecond, config.TieBreakSeeded, 1)
	res := e.Round(context.Background(), 1, living, nil, voters)

	require.Len(t, res.Votes, 4, "valid plus invalid must cover every living voter")
	byVoter := map[int]domain.Vote{}
	for _, v := range res.Votes {
		byVoter[v.VoterID] = v
	}
	assert.Equal(t, ReasonSelfVote, byVoter[0].Reason)
	assert.Equal(t, ReasonUnknownTarget, byVoter[1].Reason)
	assert.Equal(t, ReasonUnparseable, byVoter[2].Reason)
	assert.Equal(t, ReasonTimeout, byVoter[3].Reason)
	for _, v := range byVoter {
		assert.False(t, v.Valid)
	}
	assert.Equal(t, domain.NoTarget, res.EliminatedID)
}

func TestRoundTieSeededIsDeterministic(t *testing.T) {
	pick := func() int {
		living, voters := setup(map[int]*voterStub{
			0: {target: 1},
			1: {target: 0},
			2: {target: 1},
			3: {target: 0},
		})
		e := New(time.Second, config.TieBreakSeeded, 42)
		res := e.Round(context.Background(), 1, living, nil, voters)
		if !res.Tied {
			t.Fatal("expected a tie")
		}
		return res.EliminatedID
	}
	first := pick()
	assert.Contains(t, []int{0, 1}, first)
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, pick(), "same seed must break ties the same way")
	}
}

func TestRoundTieNoEliminationSparesEveryone(t *testing.T) {
	living, voters := setup(map[int]*voterStub{
		0: {target: 1},
		1: {target: 0},
		2: {target: 1},
		3: {target: 0},
	})
	e := New(time.Second, config.TieBreakNoElimination, 1)
	res := e.Round(context.Background(), 1, living, nil, voters)

	assert.True(t, res.Tied)
	assert.Equal(t, domain.NoTarget, res.EliminatedID)
}

func TestRoundHungModelIsLedgeredAsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server notices the client disconnect and
		// cancels the request context; otherwise Close deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()
	gen := textgen.NewOpenAI(textgen.OpenAIConfig{BaseURL: srv.URL, Model: "test", MaxAttempts: 1, Backoff: time.Millisecond})

	catalog := personality.Default()
	var living []domain.Agent
	var voters []Voter
	for i, name := range []string{"Aryan", "Jay", "Navya"} {
		a := domain.Agent{ID: i, Name: name, Role: domain.RoleVillager, Alive: true}
		living = append(living, a)
		voters = append(voters, Voter{Agent: a, Policy: decision.NewLLMPolicy(a, catalog.Get(name), gen)})
	}

	e := New(100*time.Millisecond, config.TieBreakSeeded, 1)
	res := e.Round(context.Background(), 1, living, nil, voters)

	require.Len(t, res.Votes, 3)
	for _, v := range res.Votes {
		assert.False(t, v.Valid)
		assert.Equal(t, ReasonTimeout, v.Reason)
	}
	assert.Equal(t, domain.NoTarget, res.EliminatedID)
}

func TestLedgerAccumulatesAcrossRounds(t *testing.T) {
	living, voters := setup(map[int]*voterStub{
		0: {target: 1},
		1: {target: 0},
		2: {target: 1},
		3: {target: 1},
	})
	e := New(time.Second, config.TieBreakSeeded, 1)
	e.Round(context.Background(), 1, living, nil, voters)
	e.Round(context.Background(), 2, living, nil, voters)

	assert.Len(t, e.Ledger(), 8)
	assert.Len(t, e.ForRound(1), 4)
	assert.Len(t, e.ForRound(2), 4)

	// Ledger copies must not alias internal state.
	ledger := e.Ledger()
	ledger[0].Reason = "tampered"
	assert.NotEqual(t, "tampered", e.Ledger()[0].Reason)
}
