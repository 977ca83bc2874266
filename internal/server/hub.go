package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"mafiasim/internal/ballot"
	"mafiasim/internal/config"
	"mafiasim/internal/domain"
	"mafiasim/internal/memory"
	"mafiasim/internal/personality"
	"mafiasim/internal/session"
	"mafiasim/internal/textgen"
)

// ErrGameNotFound covers both unknown ids and games that never ran here.
var ErrGameNotFound = errors.New("game not found")

// Hub owns the sessions started through the API and their event streams.
// Finished games stay addressable until the process exits; the durable copy
// lives in the repository sink.
type Hub struct {
	Config  config.Config
	Catalog personality.Catalog
	Memory  memory.Store
	Sink    session.Sink
	Logger  *log.Logger
	// Generator overrides the config-derived generator, used by tests.
	Generator textgen.Generator

	mu    sync.Mutex
	games map[string]*liveGame
}

type liveGame struct {
	sess *session.Session
	bc   *broadcaster
	done chan struct{}
}

func NewHub(cfg config.Config, catalog personality.Catalog, store memory.Store, sink session.Sink, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	if catalog == nil {
		catalog = personality.Default()
	}
	if store == nil {
		store = memory.NewInMemory()
	}
	return &Hub{
		Config:  cfg,
		Catalog: catalog,
		Memory:  store,
		Sink:    sink,
		Logger:  logger,
		games:   map[string]*liveGame{},
	}
}

// StartOverrides are the per-game knobs a client may change from the served
// base config.
type StartOverrides struct {
	Seed      *int64
	Agents    *int
	Mafia     *int
	MaxRounds *int
}

// Start launches a new game in the background and returns its id. The game
// outlives the request; it is driven by its own context.
func (h *Hub) Start(ov StartOverrides) (session.Status, error) {
	cfg := h.Config
	if ov.Seed != nil {
		cfg.Session.Seed = *ov.Seed
	}
	if ov.Agents != nil {
		cfg.Session.Agents = *ov.Agents
		cfg.Session.Names = nil
	}
	if ov.Mafia != nil {
		cfg.Session.Mafia = *ov.Mafia
	}
	if ov.MaxRounds != nil {
		cfg.Session.MaxRounds = *ov.MaxRounds
	}

	gen := h.Generator
	if gen == nil {
		gen = textgen.FromConfig(cfg)
	}

	bc := newBroadcaster()
	sess, err := session.New(session.Options{
		Config:    cfg,
		Catalog:   h.Catalog,
		Generator: gen,
		Memory:    h.Memory,
		Sink:      h.Sink,
		Logger:    h.Logger,
		Hooks: session.Hooks{
			OnMessage: func(m domain.Message) {
				bc.publish(jsonEvent("message", m))
			},
			OnPhase: func(p domain.Phase, round int) {
				bc.publish(jsonEvent("phase", map[string]any{"phase": p, "round": round}))
			},
			OnVotes: func(r ballot.Result) {
				bc.publish(jsonEvent("votes", r))
			},
		},
	})
	if err != nil {
		return session.Status{}, err
	}

	lg := &liveGame{sess: sess, bc: bc, done: make(chan struct{})}
	h.mu.Lock()
	h.games[sess.ID] = lg
	h.mu.Unlock()

	go func() {
		defer close(lg.done)
		rec, err := sess.Run(context.Background())
		if err != nil {
			h.Logger.Printf("game %s: run ended early: %v", sess.ID, err)
		}
		bc.publish(jsonEvent(eventEnd, map[string]any{"winner": rec.Winner, "rounds": rec.Rounds}))
	}()
	return sess.Status(), nil
}

func jsonEvent(name string, v any) sseEvent {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte("{}")
	}
	return sseEvent{Event: name, Data: data}
}

func (h *Hub) game(id string) (*liveGame, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	lg, ok := h.games[id]
	if !ok {
		return nil, ErrGameNotFound
	}
	return lg, nil
}

// Status returns the live status of a running or finished in-process game.
func (h *Hub) Status(id string) (session.Status, error) {
	lg, err := h.game(id)
	if err != nil {
		return session.Status{}, err
	}
	return lg.sess.Status(), nil
}

// List returns the status of every in-process game.
func (h *Hub) List() []session.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]session.Status, 0, len(h.games))
	for _, lg := range h.games {
		out = append(out, lg.sess.Status())
	}
	return out
}

// Messages returns a game's conversation after the given sequence number.
func (h *Hub) Messages(id string, since int) ([]domain.Message, error) {
	lg, err := h.game(id)
	if err != nil {
		return nil, err
	}
	return lg.sess.Messages(since), nil
}

// Votes returns a game's vote ledger so far.
func (h *Hub) Votes(id string) ([]domain.Vote, error) {
	lg, err := h.game(id)
	if err != nil {
		return nil, err
	}
	return lg.sess.Votes(), nil
}

// Subscribe attaches an SSE client to a game's event stream.
func (h *Hub) Subscribe(id string) (chan sseEvent, func(), error) {
	lg, err := h.game(id)
	if err != nil {
		return nil, nil, err
	}
	ch := lg.bc.subscribe()
	return ch, func() { lg.bc.unsubscribe(ch) }, nil
}

// Wait blocks until the given game finishes; used by tests.
func (h *Hub) Wait(id string) error {
	lg, err := h.game(id)
	if err != nil {
		return err
	}
	<-lg.done
	return nil
}
