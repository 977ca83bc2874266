package textgen

import (
	"context"
	"hash/fnv"
	"strings"
)

// Scripted is a deterministic offline generator. Replies depend only on the
// seed and the prompt, which keeps whole games reproducible without any
// external service. Vote-style prompts carry a "Candidates:" line; the
// scripted generator picks from it instead of inventing names.
type Scripted struct {
	Seed int64
}

func NewScripted(seed int64) *Scripted {
	return &Scripted{Seed: seed}
}

func (s *Scripted) mix(prompt string) uint64 {
	h := fnv.New64a()
	var seed [8]byte
	v := uint64(s.Seed)
	for i := 0; i < 8; i++ {
		seed[i] = byte(v >> (8 * i))
	}
	h.Write(seed[:])
	h.Write([]byte(prompt))
	return h.Sum64()
}

func (s *Scripted) Generate(_ context.Context, req Request) (string, error) {
	sum := s.mix(req.Prompt)
	if candidates := extractCandidates(req.Prompt); len(candidates) > 0 {
		return candidates[sum%uint64(len(candidates))], nil
	}
	if strings.Contains(req.Prompt, "final message") || strings.Contains(req.Prompt, "last words") {
		return scriptedWills[sum%uint64(len(scriptedWills))], nil
	}
	return scriptedLines[sum%uint64(len(scriptedLines))], nil
}

func (s *Scripted) Score(_ context.Context, req Request) (float64, error) {
	sum := s.mix(req.Prompt)
	return float64(sum%1000) / 999, nil
}

// extractCandidates reads the "Candidates: a, b, c" line a selection prompt
// carries.
func extractCandidates(prompt string) []string {
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(line, "Candidates:")
		if !ok {
			continue
		}
		var names []string
		for _, n := range strings.Split(rest, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		return names
	}
	return nil
}

var scriptedLines = []string{
	"Something about the last few messages doesn't add up.",
	"I've been watching the quiet ones. Silence is a strategy too.",
	"Whoever keeps agreeing with everyone is hiding something.",
	"Let's slow down and compare stories from the first round.",
	"I notice who changed the subject when the votes came up.",
	"My gut says we're being steered. The question is by whom.",
	"Ask yourself who benefits from this accusation.",
	"I'd rather vote on evidence than on volume.",
	"The loudest voice in the room has been wrong before.",
	"Someone deflected twice in a row. That's a pattern.",
}

var scriptedWills = []string{
	"If you're reading this, follow the votes, not the words.",
	"I was close. Watch the one who never defended anyone.",
	"Trust the early messages. The later ones were theater.",
	"They got me. Count who gained from my silence.",
	"No riddles: check round one again.",
}
