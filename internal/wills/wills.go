// Package wills manages last-words notes: authored at elimination, open to
// one covert mafia edit while pending, then revealed into the conversation
// and immutable forever after.
package wills

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"mafiasim/internal/convo"
	"mafiasim/internal/decision"
	"mafiasim/internal/domain"
)

// Editor is a living mafia agent allowed to tamper with a pending will.
type Editor struct {
	Agent  domain.Agent
	Policy decision.Policy
	Memory domain.Memory
}

// fallbackWill stands in when the victim's generation call fails. The reveal
// still happens so the game flow stays uniform.
const fallbackWill = "I have nothing left to say."

// Manager owns every will of one session behind a single mutex.
type Manager struct {
	Timeout time.Duration
	Logger  *log.Logger

	mu    sync.Mutex
	wills map[int]*domain.Will
}

func NewManager(timeout time.Duration) *Manager {
	return &Manager{Timeout: timeout, wills: map[int]*domain.Will{}}
}

func (m *Manager) logger() *log.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return log.Default()
}

// Author asks the eliminated agent for its last words and records the will
// in pending state. A failed generation falls back to a stock phrase rather
// than aborting the elimination.
func (m *Manager) Author(ctx context.Context, victim domain.Agent, policy decision.Policy, view decision.View) domain.Will {
	callCtx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()
	text, err := policy.AuthorWill(callCtx, view)
	if err != nil || text == "" {
		m.logger().Printf("round %d: will authoring failed for agent %d: %v", view.Round, victim.ID, err)
		text = fallbackWill
	}
	w := &domain.Will{AgentID: victim.ID, Original: text, EditorID: domain.NoTarget}
	m.mu.Lock()
	m.wills[victim.ID] = w
	m.mu.Unlock()
	return *w
}

// OfferEdit opens the tamper window: every living mafia may propose a
// replacement concurrently, the first valid proposal wins, the rest are
// discarded. The window closes when all editors answered or the timeout
// elapses; after Reveal no edit can land.
func (m *Manager) OfferEdit(ctx context.Context, victimID int, editors []Editor, view decision.View) {
	m.mu.Lock()
	w, ok := m.wills[victimID]
	if !ok || w.Revealed {
		m.mu.Unlock()
		return
	}
	pending := *w
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, ed := range editors {
		if ed.Agent.ID == victimID {
			continue
		}
		wg.Add(1)
		go func(ed Editor) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, m.Timeout)
			defer cancel()
			edView := view
			edView.Self = ed.Agent
			edView.Memory = ed.Memory
			text, wants, err := ed.Policy.ProposeWillEdit(callCtx, edView, pending)
			if err != nil {
				m.logger().Printf("will edit by agent %d failed: %v", ed.Agent.ID, err)
				return
			}
			if !wants {
				return
			}
			if !m.tryEdit(victimID, ed.Agent.ID, text) {
				m.logger().Printf("will edit by agent %d lost the window", ed.Agent.ID)
			}
		}(ed)
	}
	wg.Wait()
}

// tryEdit commits the first edit; later attempts and post-reveal attempts
// are rejected.
func (m *Manager) tryEdit(victimID, editorID int, text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wills[victimID]
	if !ok || w.Revealed || w.Edited {
		return false
	}
	w.Final = text
	w.Edited = true
	w.EditorID = editorID
	return true
}

// Reveal finalizes the will and appends it to the conversation as the
// victim's last words. Idempotent: a second reveal appends nothing.
func (m *Manager) Reveal(victim domain.Agent, round int, conv *convo.Log) (domain.Will, bool) {
	m.mu.Lock()
	w, ok := m.wills[victim.ID]
	if !ok || w.Revealed {
		var out domain.Will
		if ok {
			out = *w
		}
		m.mu.Unlock()
		return out, false
	}
	if !w.Edited {
		w.Final = w.Original
	}
	w.Revealed = true
	out := *w
	m.mu.Unlock()

	conv.Append(convo.Candidate{
		Round:    round,
		Kind:     domain.MessageWill,
		AuthorID: victim.ID,
		Author:   victim.Name,
		Body:     out.Final,
	})
	return out, true
}

// Get returns a copy of one will.
func (m *Manager) Get(agentID int) (domain.Will, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wills[agentID]
	if !ok {
		return domain.Will{}, false
	}
	return *w, true
}

// All returns copies of every will, ordered by agent id.
func (m *Manager) All() []domain.Will {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Will, 0, len(m.wills))
	for _, w := range m.wills {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}
