package decision

import (
	"context"
	"errors"
	"strings"

	"mafiasim/internal/domain"
	"mafiasim/internal/personality"
	"mafiasim/internal/textgen"
)

// ErrNoCandidate means a selection reply matched none of the offered names.
var ErrNoCandidate = errors.New("reply matched no candidate")

// LLMPolicy drives one agent through a text generator. Urgency blends the
// model's own eagerness score with positional heuristics so a flaky or flat
// model still produces believable turn-taking.
type LLMPolicy struct {
	Self    domain.Agent
	Profile personality.Profile
	Gen     textgen.Generator
}

func NewLLMPolicy(self domain.Agent, profile personality.Profile, gen textgen.Generator) *LLMPolicy {
	return &LLMPolicy{Self: self, Profile: profile, Gen: gen}
}

const (
	mentionBoost   = 0.4
	mafiaBoost     = 0.2
	patienceBoost  = 0.25
	recencyPenalty = 0.3
	// patienceThreshold is how many player messages without speaking it
	// takes before an agent gets pushy.
	patienceThreshold = 8
)

func (p *LLMPolicy) EvaluateIntent(ctx context.Context, v View) (Intent, error) {
	if last, ok := lastPlayerMessage(v.Log); ok && last.AuthorID == p.Self.ID {
		// Never speak twice in a row.
		return Intent{Pass: true}, nil
	}
	score, err := p.Gen.Score(ctx, textgen.Request{
		System: systemPrompt(p.Self, p.Profile),
		Prompt: urgencyPrompt(v),
	})
	if err != nil {
		return Intent{}, err
	}
	urgency := clamp01((p.heuristic(v) + score) / 2)
	return Intent{Urgency: urgency}, nil
}

// heuristic is the situational half of urgency, mirroring how human players
// behave: the accused defend themselves, mafia keep the chatter going, and
// recent talkers yield the floor.
func (p *LLMPolicy) heuristic(v View) float64 {
	u := p.Profile.Eagerness
	if mentionedRecently(v.Log, p.Self.Name, 3) {
		u += mentionBoost
	}
	if p.Self.Role == domain.RoleMafia {
		u += mafiaBoost
	}
	recent, sinceSelf := recentActivity(v.Log, p.Self.ID)
	if recent >= 2 {
		u -= recencyPenalty
	}
	if sinceSelf >= patienceThreshold {
		u += patienceBoost
	}
	return clamp01(u)
}

func (p *LLMPolicy) Compose(ctx context.Context, v View) (string, error) {
	return p.Gen.Generate(ctx, textgen.Request{
		System: systemPrompt(p.Self, p.Profile),
		Prompt: composePrompt(v),
	})
}

func (p *LLMPolicy) CastVote(ctx context.Context, v View) (int, error) {
	reply, err := p.Gen.Generate(ctx, textgen.Request{
		System:    systemPrompt(p.Self, p.Profile),
		Prompt:    votePrompt(v),
		MaxTokens: 16,
	})
	if err != nil {
		return domain.NoTarget, err
	}
	id, ok := resolveTarget(reply, v.Living, p.Self.ID)
	if !ok {
		return domain.NoTarget, ErrNoCandidate
	}
	return id, nil
}

func (p *LLMPolicy) AuthorWill(ctx context.Context, v View) (string, error) {
	return p.Gen.Generate(ctx, textgen.Request{
		System: systemPrompt(p.Self, p.Profile),
		Prompt: willPrompt(v),
	})
}

func (p *LLMPolicy) ProposeWillEdit(ctx context.Context, v View, w domain.Will) (string, bool, error) {
	victim := ""
	for _, m := range v.Log {
		if m.AuthorID == w.AgentID {
			victim = m.Author
		}
	}
	if victim == "" {
		victim = "the eliminated player"
	}
	reply, err := p.Gen.Generate(ctx, textgen.Request{
		System: systemPrompt(p.Self, p.Profile),
		Prompt: willEditPrompt(v, w, victim),
	})
	if err != nil {
		return "", false, err
	}
	reply = strings.Trim(strings.TrimSpace(reply), `"`)
	if reply == "" || strings.EqualFold(reply, "KEEP") {
		return "", false, nil
	}
	return reply, true, nil
}

// resolveTarget matches a free-text reply against the candidate names,
// preferring an exact match over a substring hit.
func resolveTarget(reply string, living []domain.Agent, selfID int) (int, bool) {
	cleaned := strings.ToLower(strings.Trim(strings.TrimSpace(reply), `."'!`))
	for _, a := range living {
		if a.ID == selfID {
			continue
		}
		if cleaned == strings.ToLower(a.Name) {
			return a.ID, true
		}
	}
	for _, a := range living {
		if a.ID == selfID {
			continue
		}
		if strings.Contains(cleaned, strings.ToLower(a.Name)) {
			return a.ID, true
		}
	}
	return domain.NoTarget, false
}

func lastPlayerMessage(log []domain.Message) (domain.Message, bool) {
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Kind == domain.MessagePlayer {
			return log[i], true
		}
	}
	return domain.Message{}, false
}

// mentionedRecently reports whether name appears in the last n player
// messages written by someone else.
func mentionedRecently(log []domain.Message, name string, n int) bool {
	needle := strings.ToLower(name)
	seen := 0
	for i := len(log) - 1; i >= 0 && seen < n; i-- {
		m := log[i]
		if m.Kind != domain.MessagePlayer {
			continue
		}
		seen++
		if m.Author == name {
			continue
		}
		if strings.Contains(strings.ToLower(m.Body), needle) {
			return true
		}
	}
	return false
}

// recentActivity returns how many of the last five player messages selfID
// authored, and how many player messages have passed since it last spoke.
func recentActivity(log []domain.Message, selfID int) (recent, sinceSelf int) {
	seen := 0
	total := 0
	counted := false
	for i := len(log) - 1; i >= 0; i-- {
		m := log[i]
		if m.Kind != domain.MessagePlayer {
			continue
		}
		if seen < 5 {
			seen++
			if m.AuthorID == selfID {
				recent++
			}
		}
		if m.AuthorID == selfID && !counted {
			sinceSelf = total
			counted = true
		}
		total++
		if counted && seen == 5 {
			break
		}
	}
	if !counted {
		// Waiting since the start counts as waiting.
		sinceSelf = total
	}
	return recent, sinceSelf
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
