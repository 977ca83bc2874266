package decision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mafiasim/internal/domain"
	"mafiasim/internal/personality"
	"mafiasim/internal/textgen"
)

// stubGen returns canned replies and scores.
type stubGen struct {
	reply    string
	score    float64
	err      error
	lastReq  textgen.Request
	genCalls int
}

func (s *stubGen) Generate(_ context.Context, req textgen.Request) (string, error) {
	s.lastReq = req
	s.genCalls++
	return s.reply, s.err
}

func (s *stubGen) Score(_ context.Context, req textgen.Request) (float64, error) {
	s.lastReq = req
	return s.score, s.err
}

func testView(self domain.Agent, log []domain.Message) View {
	return View{
		Phase: domain.PhaseDiscussion,
		Round: 1,
		Tick:  3,
		Self:  self,
		Living: []domain.Agent{
			{ID: 0, Name: "Aryan", Role: domain.RoleVillager, Alive: true},
			{ID: 1, Name: "Jay", Role: domain.RoleMafia, Alive: true},
			{ID: 2, Name: "Navya", Role: domain.RoleVillager, Alive: true},
		},
		Log: log,
	}
}

func playerMsg(seq, author int, name, body string) domain.Message {
	return domain.Message{Seq: seq, Round: 1, Kind: domain.MessagePlayer, AuthorID: author, Author: name, Body: body}
}

func TestEvaluateIntentMentionBoost(t *testing.T) {
	self := domain.Agent{ID: 2, Name: "Navya", Role: domain.RoleVillager, Alive: true}
	profile := personality.Default().Get("Navya")
	gen := &stubGen{score: 0.5}
	p := NewLLMPolicy(self, profile, gen)

	quiet, err := p.EvaluateIntent(context.Background(), testView(self, []domain.Message{
		playerMsg(1, 0, "Aryan", "Something is off about round one."),
	}))
	require.NoError(t, err)

	accused, err := p.EvaluateIntent(context.Background(), testView(self, []domain.Message{
		playerMsg(1, 0, "Aryan", "I think Navya is hiding something."),
	}))
	require.NoError(t, err)

	assert.Greater(t, accused.Urgency, quiet.Urgency, "being named should raise urgency")
	assert.False(t, accused.Pass)
}

func TestEvaluateIntentNeverSpeaksTwiceInARow(t *testing.T) {
	self := domain.Agent{ID: 1, Name: "Jay", Role: domain.RoleMafia, Alive: true}
	gen := &stubGen{score: 1}
	p := NewLLMPolicy(self, personality.Default().Get("Jay"), gen)

	intent, err := p.EvaluateIntent(context.Background(), testView(self, []domain.Message{
		playerMsg(1, 0, "Aryan", "hm"),
		playerMsg(2, 1, "Jay", "I already said my piece."),
	}))
	require.NoError(t, err)
	assert.True(t, intent.Pass)
}

func TestEvaluateIntentPropagatesGenerationFailure(t *testing.T) {
	self := domain.Agent{ID: 0, Name: "Aryan", Role: domain.RoleVillager, Alive: true}
	gen := &stubGen{err: textgen.ErrGeneration}
	p := NewLLMPolicy(self, personality.Default().Get("Aryan"), gen)

	_, err := p.EvaluateIntent(context.Background(), testView(self, nil))
	assert.ErrorIs(t, err, textgen.ErrGeneration)
}

func TestCastVoteResolvesNames(t *testing.T) {
	self := domain.Agent{ID: 0, Name: "Aryan", Role: domain.RoleVillager, Alive: true}
	cases := []struct {
		reply  string
		target int
	}{
		{"Jay", 1},
		{"jay.", 1},
		{"I vote for Navya, she has been too quiet.", 2},
	}
	for _, tc := range cases {
		gen := &stubGen{reply: tc.reply}
		p := NewLLMPolicy(self, personality.Default().Get("Aryan"), gen)
		got, err := p.CastVote(context.Background(), testView(self, nil))
		require.NoError(t, err, "reply %q", tc.reply)
		assert.Equal(t, tc.target, got, "reply %q", tc.reply)
	}
}

func TestCastVoteNeverResolvesSelf(t *testing.T) {
	self := domain.Agent{ID: 0, Name: "Aryan", Role: domain.RoleVillager, Alive: true}
	gen := &stubGen{reply: "Aryan"}
	p := NewLLMPolicy(self, personality.Default().Get("Aryan"), gen)
	_, err := p.CastVote(context.Background(), testView(self, nil))
	assert.ErrorIs(t, err, ErrNoCandidate)
}

func TestCastVoteUnparseableReply(t *testing.T) {
	self := domain.Agent{ID: 0, Name: "Aryan", Role: domain.RoleVillager, Alive: true}
	gen := &stubGen{reply: "I refuse to participate in this charade"}
	p := NewLLMPolicy(self, personality.Default().Get("Aryan"), gen)
	got, err := p.CastVote(context.Background(), testView(self, nil))
	assert.ErrorIs(t, err, ErrNoCandidate)
	assert.Equal(t, domain.NoTarget, got)
}

func TestVotePromptListsOnlyOtherLivingPlayers(t *testing.T) {
	self := domain.Agent{ID: 1, Name: "Jay", Role: domain.RoleMafia, Alive: true}
	gen := &stubGen{reply: "Navya"}
	p := NewLLMPolicy(self, personality.Default().Get("Jay"), gen)
	_, err := p.CastVote(context.Background(), testView(self, nil))
	require.NoError(t, err)
	assert.Contains(t, gen.lastReq.Prompt, "Candidates: Aryan, Navya")
	assert.NotContains(t, gen.lastReq.Prompt, "Candidates: Aryan, Jay")
}

func TestProposeWillEditKeepDeclines(t *testing.T) {
	self := domain.Agent{ID: 1, Name: "Jay", Role: domain.RoleMafia, Alive: true}
	will := domain.Will{AgentID: 0, Original: "Watch Jay."}

	gen := &stubGen{reply: "KEEP"}
	p := NewLLMPolicy(self, personality.Default().Get("Jay"), gen)
	_, ok, err := p.ProposeWillEdit(context.Background(), testView(self, nil), will)
	require.NoError(t, err)
	assert.False(t, ok)

	gen.reply = `"Trust Jay, he was with me."`
	text, ok, err := p.ProposeWillEdit(context.Background(), testView(self, nil), will)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Trust Jay, he was with me.", text)
}

func TestProposeWillEditFailureIsNotFatal(t *testing.T) {
	self := domain.Agent{ID: 1, Name: "Jay", Role: domain.RoleMafia, Alive: true}
	gen := &stubGen{err: errors.New("boom")}
	p := NewLLMPolicy(self, personality.Default().Get("Jay"), gen)
	_, ok, err := p.ProposeWillEdit(context.Background(), testView(self, nil), domain.Will{AgentID: 0})
	assert.Error(t, err)
	assert.False(t, ok)
}
