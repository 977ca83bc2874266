package decision

import (
	"fmt"
	"strings"

	"mafiasim/internal/domain"
	"mafiasim/internal/personality"
)

// contextWindow is how many trailing log messages prompts include.
const contextWindow = 40

func systemPrompt(self domain.Agent, p personality.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a player in a game of Mafia.\n", self.Name)
	fmt.Fprintf(&b, "Personality: %s\n", p.Description)
	fmt.Fprintf(&b, "Traits: %s\n", strings.Join(p.Traits, ", "))
	fmt.Fprintf(&b, "Speaking style: %s\n", p.SpeakingStyle)
	if self.Role == domain.RoleMafia {
		fmt.Fprintf(&b, "You are secretly MAFIA. Never admit it. Strategy: %s\n", p.MafiaStrategy)
	} else {
		fmt.Fprintf(&b, "You are a VILLAGER trying to find the mafia. Strategy: %s\n", p.VillagerStrategy)
	}
	b.WriteString("Stay in character. Keep replies short, one to three sentences, no narration.")
	return b.String()
}

// transcript renders the tail of the log the way players would read it.
func transcript(log []domain.Message) string {
	start := 0
	if len(log) > contextWindow {
		start = len(log) - contextWindow
	}
	var b strings.Builder
	for _, m := range log[start:] {
		switch m.Kind {
		case domain.MessageSystem:
			fmt.Fprintf(&b, "[Moderator] %s\n", m.Body)
		case domain.MessageWill:
			fmt.Fprintf(&b, "[Last words of %s] %s\n", m.Author, m.Body)
		default:
			fmt.Fprintf(&b, "%s: %s\n", m.Author, m.Body)
		}
	}
	return b.String()
}

func urgencyPrompt(v View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d of the discussion. The conversation so far:\n%s\n", v.Round, transcript(v.Log))
	b.WriteString("How urgently do you want to speak right now? ")
	b.WriteString("Answer with a single number between 0 and 1 and nothing else.")
	return b.String()
}

func composePrompt(v View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d. The conversation so far:\n%s\n", v.Round, transcript(v.Log))
	fmt.Fprintf(&b, "Living players: %s.\n", joinNames(v.Living, domain.NoTarget))
	b.WriteString("It is your turn to speak. Reply with what you say, in character, nothing else.")
	return b.String()
}

// votePrompt lists valid targets on a Candidates line so even the scripted
// generator answers with a real name.
func votePrompt(v View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d voting. The conversation so far:\n%s\n", v.Round, transcript(v.Log))
	b.WriteString("You must vote to eliminate one player. You cannot vote for yourself.\n")
	fmt.Fprintf(&b, "Candidates: %s\n", joinNames(v.Living, v.Self.ID))
	b.WriteString("Answer with exactly one name from the candidates.")
	return b.String()
}

func willPrompt(v View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You have been eliminated in round %d. The conversation so far:\n%s\n", v.Round, transcript(v.Log))
	b.WriteString("Write your final message to the remaining players. ")
	b.WriteString("These are your last words, one or two sentences.")
	return b.String()
}

func willEditPrompt(v View, w domain.Will, victim string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "As mafia you have intercepted the final message of %s before it is revealed:\n", victim)
	fmt.Fprintf(&b, "%q\n", w.Original)
	b.WriteString("You may secretly replace it with a forgery, or leave it untouched.\n")
	b.WriteString("Reply with the replacement last words, or reply exactly KEEP to leave it.")
	return b.String()
}

// joinNames lists living agents, skipping exclude (NoTarget skips nobody).
func joinNames(agents []domain.Agent, exclude int) string {
	names := make([]string, 0, len(agents))
	for _, a := range agents {
		if a.ID == exclude {
			continue
		}
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}
