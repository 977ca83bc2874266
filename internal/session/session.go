// Package session orchestrates one full Mafia game: setup, the
// discussion/voting/elimination round loop, win evaluation, and the final
// flush to persistence. The session mutex guards only the game state;
// the conversation log and the vote ledger carry their own locks.
package session

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"mafiasim/internal/arbiter"
	"mafiasim/internal/ballot"
	"mafiasim/internal/config"
	"mafiasim/internal/convo"
	"mafiasim/internal/decision"
	"mafiasim/internal/domain"
	"mafiasim/internal/memory"
	"mafiasim/internal/personality"
	"mafiasim/internal/textgen"
	"mafiasim/internal/wills"
)

// Sink receives the finalized transcript once, at game end.
type Sink interface {
	SaveGame(ctx context.Context, rec domain.GameRecord) error
}

// Hooks let observers follow a running game. All hooks are optional and are
// called synchronously from the session goroutine.
type Hooks struct {
	OnMessage func(domain.Message)
	OnPhase   func(domain.Phase, int)
	OnVotes   func(ballot.Result)
	OnEnd     func(domain.GameRecord)
}

// Options wires a session together. Config is validated in New; an invalid
// config is the only fatal setup error.
type Options struct {
	Config    config.Config
	Catalog   personality.Catalog
	Generator textgen.Generator
	Memory    memory.Store
	Sink      Sink
	Hooks     Hooks
	Logger    *log.Logger
	Now       func() time.Time
}

// Session is one game from setup to ended. Run drives it to completion;
// the read accessors are safe to call from other goroutines at any time.
type Session struct {
	ID string

	cfg     config.Config
	catalog personality.Catalog
	gen     textgen.Generator
	store   memory.Store
	sink    Sink
	hooks   Hooks
	logger  *log.Logger
	now     func() time.Time

	convLog *convo.Log
	arb     *arbiter.Arbitrator
	votes   *ballot.Engine
	wills   *wills.Manager
	rng     *rand.Rand

	mu        sync.Mutex
	phase     domain.Phase
	round     int
	agents    []domain.Agent
	policies  map[int]decision.Policy
	stats     map[int]*domain.AgentStats
	memories  map[int]domain.Memory
	pending   map[int][]domain.MemoryRecord
	winner    domain.Outcome
	startedAt time.Time
	endedAt   time.Time
}

// New validates the config and assembles a session in setup phase. Roles,
// seating and the opening hint all derive from the configured seed.
func New(opts Options) (*Session, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Catalog == nil {
		opts.Catalog = personality.Default()
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("%w: session needs a generator", config.ErrInvalidConfig)
	}
	if opts.Memory == nil {
		opts.Memory = memory.NewInMemory()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Session{
		ID:       uuid.NewString(),
		cfg:      opts.Config,
		catalog:  opts.Catalog,
		gen:      opts.Generator,
		store:    opts.Memory,
		sink:     opts.Sink,
		hooks:    opts.Hooks,
		logger:   opts.Logger,
		now:      opts.Now,
		convLog:  convo.NewLog(),
		rng:      rand.New(rand.NewSource(opts.Config.Session.Seed)),
		phase:    domain.PhaseSetup,
		winner:   domain.OutcomeUndecided,
		policies: map[int]decision.Policy{},
		stats:    map[int]*domain.AgentStats{},
		memories: map[int]domain.Memory{},
		pending:  map[int][]domain.MemoryRecord{},
	}
	s.convLog.Now = s.now
	s.arb = arbiter.New(s.convLog, s.cfg.Session.SpeakThreshold, s.cfg.Session.EvaluationTimeout.Std())
	s.arb.Logger = s.logger
	s.votes = ballot.New(s.cfg.Session.EvaluationTimeout.Std(), s.cfg.Session.TieBreak, s.cfg.Session.Seed+1)
	s.votes.Logger = s.logger
	s.wills = wills.NewManager(s.cfg.Session.EvaluationTimeout.Std())
	s.wills.Logger = s.logger

	s.setupRoster()
	return s, nil
}

// setupRoster seats the agents, deals roles from the seeded shuffle and
// loads each agent's memories. A memory load failure is logged and the agent
// starts blank.
func (s *Session) setupRoster() {
	names := s.cfg.Session.Names
	if len(names) == 0 {
		names = personality.DefaultRoster()
	}
	n := s.cfg.Session.Agents
	roles := make([]domain.Role, n)
	for i := range roles {
		roles[i] = domain.RoleVillager
	}
	for _, idx := range s.rng.Perm(n)[:s.cfg.Session.Mafia] {
		roles[idx] = domain.RoleMafia
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("Player%d", i+1)
		if i < len(names) {
			name = names[i]
		}
		a := domain.Agent{ID: i, Name: name, Role: roles[i], Personality: name, Alive: true}
		s.agents = append(s.agents, a)
		s.policies[i] = decision.NewLLMPolicy(a, s.catalog.Get(name), s.gen)
		s.stats[i] = &domain.AgentStats{}
		mem, err := s.store.Load(ctx, name)
		if err != nil {
			s.logger.Printf("game %s: loading memory for %s failed: %v", s.ID, name, err)
			mem = domain.Memory{Agent: name}
		}
		s.memories[i] = mem
	}
}

// Run plays the game to its end and returns the final record. The only
// error Run itself returns is a canceled context; everything else is
// absorbed into the game flow.
func (s *Session) Run(ctx context.Context) (domain.GameRecord, error) {
	s.mu.Lock()
	s.startedAt = s.now()
	s.mu.Unlock()

	s.system(0, fmt.Sprintf("A new game begins with %d players: %s.", len(s.agents), s.roster()))
	hint := personality.OpeningHints[s.rng.Intn(len(personality.OpeningHints))]
	s.system(0, "The moderator whispers: "+hint)

	for {
		if err := ctx.Err(); err != nil {
			return s.finish(ctx, domain.OutcomeUndecided), err
		}
		s.mu.Lock()
		s.round++
		round := s.round
		s.mu.Unlock()
		if round > s.cfg.Session.MaxRounds {
			s.system(round, "The town has run out of patience. The game ends undecided.")
			return s.finish(ctx, domain.OutcomeUndecided), nil
		}

		s.setPhase(domain.PhaseDiscussion, round)
		s.system(round, fmt.Sprintf("Round %d. Day breaks over the village.", round))
		s.discussion(ctx, round)

		s.setPhase(domain.PhaseVoting, round)
		s.system(round, "Discussion is over. Cast your votes.")
		result := s.votes.Round(ctx, round, s.Living(), s.convLog.Snapshot(), s.voters())
		if s.hooks.OnVotes != nil {
			s.hooks.OnVotes(result)
		}

		s.setPhase(domain.PhaseElimination, round)
		s.eliminate(ctx, round, result)

		s.setPhase(domain.PhaseWinCheck, round)
		if outcome, done := Evaluate(s.Agents()); done {
			return s.finish(ctx, outcome), nil
		}
	}
}

// discussion runs arbitration ticks until the message budget is spent.
// Silent ticks spend budget too, so a timid table cannot stall the round.
func (s *Session) discussion(ctx context.Context, round int) {
	for tick := 1; tick <= s.cfg.Session.MessageBudget; tick++ {
		if ctx.Err() != nil {
			return
		}
		living := s.Living()
		report := s.arb.Tick(ctx, round, tick, living, s.participants())
		s.mu.Lock()
		for id := range report.Intents {
			s.stats[id].Intents++
		}
		for _, id := range report.Passes {
			s.stats[id].Passes++
		}
		for _, id := range report.Failures {
			s.stats[id].Failures++
		}
		if report.Spoke() {
			s.stats[report.SpeakerID].Messages++
		}
		s.mu.Unlock()
		if report.Spoke() && s.hooks.OnMessage != nil {
			msgs := s.convLog.Snapshot()
			s.hooks.OnMessage(msgs[len(msgs)-1])
		}
	}
}

// eliminate applies one voting result: death, will authoring, the mafia
// edit window, and the reveal.
func (s *Session) eliminate(ctx context.Context, round int, result ballot.Result) {
	if result.EliminatedID == domain.NoTarget {
		if result.Tied {
			s.system(round, "The vote is tied. Nobody hangs today.")
		} else {
			s.system(round, "No verdict could be reached. Nobody hangs today.")
		}
		return
	}

	victim, ok := s.agent(result.EliminatedID)
	if !ok {
		return
	}
	view := decision.View{
		Phase:  domain.PhaseElimination,
		Round:  round,
		Self:   victim,
		Living: s.Living(),
		Log:    s.convLog.Snapshot(),
		Memory: s.memories[victim.ID],
	}
	s.wills.Author(ctx, victim, s.policies[victim.ID], view)

	s.mu.Lock()
	for i := range s.agents {
		if s.agents[i].ID == victim.ID {
			s.agents[i].Alive = false
		}
	}
	s.mu.Unlock()

	// The editors see the world as it is after the death: the victim is
	// no longer among the living.
	editView := view
	editView.Living = s.Living()
	s.wills.OfferEdit(ctx, victim.ID, s.mafiaEditors(victim.ID), editView)
	s.system(round, fmt.Sprintf("%s has been eliminated by the town's vote.", victim.Name))
	if _, revealed := s.wills.Reveal(victim, round, s.convLog); revealed && s.hooks.OnMessage != nil {
		msgs := s.convLog.Snapshot()
		s.hooks.OnMessage(msgs[len(msgs)-1])
	}
}

// finish moves the session to ended, buffers memories, and flushes the
// record. Persistence failures are logged and reported in the record's
// journey, never allowed to corrupt the finished game state.
func (s *Session) finish(ctx context.Context, outcome domain.Outcome) domain.GameRecord {
	s.mu.Lock()
	if s.phase == domain.PhaseEnded {
		rec := s.buildRecordLocked()
		s.mu.Unlock()
		return rec
	}
	s.winner = outcome
	s.phase = domain.PhaseEnded
	s.endedAt = s.now()
	s.mu.Unlock()

	switch outcome {
	case domain.OutcomeVillagers:
		s.system(s.round, "The last mafioso is gone. The villagers win.")
	case domain.OutcomeMafia:
		s.system(s.round, "The mafia now outnumber the town. The mafia win.")
	default:
		s.system(s.round, "The game ends without a winner.")
	}
	if s.hooks.OnPhase != nil {
		s.hooks.OnPhase(domain.PhaseEnded, s.round)
	}

	s.bufferMemories(outcome)
	s.flushMemories(ctx)

	s.mu.Lock()
	rec := s.buildRecordLocked()
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.SaveGame(ctx, rec); err != nil {
			s.logger.Printf("game %s: saving transcript failed: %v", s.ID, err)
		}
	}
	if s.hooks.OnEnd != nil {
		s.hooks.OnEnd(rec)
	}
	return rec
}

func (s *Session) bufferMemories(outcome domain.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	playedAt := s.endedAt.UTC().Format(time.RFC3339)
	for _, a := range s.agents {
		won := (outcome == domain.OutcomeMafia) == (a.Role == domain.RoleMafia) && outcome != domain.OutcomeUndecided
		notes := "survived to the end"
		if !a.Alive {
			notes = "was eliminated"
		}
		s.pending[a.ID] = append(s.pending[a.ID], domain.MemoryRecord{
			GameID:   s.ID,
			Role:     a.Role,
			Outcome:  outcome,
			Won:      won,
			Notes:    notes,
			PlayedAt: playedAt,
		})
	}
}

func (s *Session) flushMemories(ctx context.Context) {
	s.mu.Lock()
	pending := s.pending
	s.pending = map[int][]domain.MemoryRecord{}
	agents := make([]domain.Agent, len(s.agents))
	copy(agents, s.agents)
	s.mu.Unlock()

	for _, a := range agents {
		recs := pending[a.ID]
		if len(recs) == 0 {
			continue
		}
		if err := s.store.Append(ctx, a.Name, recs); err != nil {
			s.logger.Printf("game %s: flushing memory for %s failed: %v", s.ID, a.Name, err)
		}
	}
}

func (s *Session) buildRecordLocked() domain.GameRecord {
	stats := make(map[int]domain.AgentStats, len(s.stats))
	for id, st := range s.stats {
		stats[id] = *st
	}
	agents := make([]domain.Agent, len(s.agents))
	copy(agents, s.agents)
	return domain.GameRecord{
		ID:        s.ID,
		Winner:    s.winner,
		Rounds:    s.round,
		Agents:    agents,
		Messages:  s.convLog.Snapshot(),
		Votes:     s.votes.Ledger(),
		Wills:     s.wills.All(),
		Stats:     stats,
		StartedAt: s.startedAt.UTC().Format(time.RFC3339),
		EndedAt:   s.endedAt.UTC().Format(time.RFC3339),
	}
}

// system appends a moderator message and notifies observers.
func (s *Session) system(round int, body string) {
	m := s.convLog.System(round, body)
	if s.hooks.OnMessage != nil {
		s.hooks.OnMessage(m)
	}
}

func (s *Session) setPhase(p domain.Phase, round int) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
	if s.hooks.OnPhase != nil {
		s.hooks.OnPhase(p, round)
	}
}

func (s *Session) roster() string {
	names := ""
	for i, a := range s.agents {
		if i > 0 {
			names += ", "
		}
		names += a.Name
	}
	return names
}

func (s *Session) agent(id int) (domain.Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		if a.ID == id {
			return a, true
		}
	}
	return domain.Agent{}, false
}

// Agents returns a copy of the full roster, dead and alive.
func (s *Session) Agents() []domain.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Agent, len(s.agents))
	copy(out, s.agents)
	return out
}

// Living returns the living agents in seat order.
func (s *Session) Living() []domain.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Agent
	for _, a := range s.agents {
		if a.Alive {
			out = append(out, a)
		}
	}
	return out
}

func (s *Session) participants() []arbiter.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []arbiter.Participant
	for _, a := range s.agents {
		if a.Alive {
			out = append(out, arbiter.Participant{Agent: a, Policy: s.policies[a.ID], Memory: s.memories[a.ID]})
		}
	}
	return out
}

func (s *Session) voters() []ballot.Voter {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ballot.Voter
	for _, a := range s.agents {
		if a.Alive {
			out = append(out, ballot.Voter{Agent: a, Policy: s.policies[a.ID], Memory: s.memories[a.ID]})
		}
	}
	return out
}

func (s *Session) mafiaEditors(victimID int) []wills.Editor {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wills.Editor
	for _, a := range s.agents {
		if a.Alive && a.Role == domain.RoleMafia && a.ID != victimID {
			out = append(out, wills.Editor{Agent: a, Policy: s.policies[a.ID], Memory: s.memories[a.ID]})
		}
	}
	return out
}

// Status is the live view exposed to observers.
type Status struct {
	ID      string         `json:"id"`
	Phase   domain.Phase   `json:"phase"`
	Round   int            `json:"round"`
	Winner  domain.Outcome `json:"winner"`
	Agents  int            `json:"agents"`
	Living  int            `json:"living"`
	Started string         `json:"started_at,omitempty"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	living := 0
	for _, a := range s.agents {
		if a.Alive {
			living++
		}
	}
	started := ""
	if !s.startedAt.IsZero() {
		started = s.startedAt.UTC().Format(time.RFC3339)
	}
	return Status{
		ID:      s.ID,
		Phase:   s.phase,
		Round:   s.round,
		Winner:  s.winner,
		Agents:  len(s.agents),
		Living:  living,
		Started: started,
	}
}

// Messages returns the conversation from seq (exclusive).
func (s *Session) Messages(since int) []domain.Message {
	return s.convLog.Since(since)
}

// Votes returns the full vote ledger so far.
func (s *Session) Votes() []domain.Vote {
	return s.votes.Ledger()
}
