package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mafiasim/internal/domain"
	"mafiasim/internal/events"
)

type Repo struct {
	DB     *sql.DB
	Events events.Writer
}

var ErrNotFound = errors.New("not found")

// SaveGame writes the finalized transcript atomically: the game row, its
// agents with stats, every message, the vote ledger, the wills, and an
// audit event. Write-once; saving the same game twice fails on the primary
// key.
func (r Repo) SaveGame(ctx context.Context, rec domain.GameRecord) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO games(id,winner,rounds,started_at,ended_at) VALUES (?,?,?,?,?)`,
		rec.ID, string(rec.Winner), rec.Rounds, rec.StartedAt, rec.EndedAt); err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	for _, a := range rec.Agents {
		st := rec.Stats[a.ID]
		if _, err := tx.ExecContext(ctx, `INSERT INTO game_agents(game_id,agent_id,name,role,alive,messages,intents,passes,failures) VALUES (?,?,?,?,?,?,?,?,?)`,
			rec.ID, a.ID, a.Name, string(a.Role), boolInt(a.Alive), st.Messages, st.Intents, st.Passes, st.Failures); err != nil {
			return fmt.Errorf("insert agent %d: %w", a.ID, err)
		}
	}
	for _, m := range rec.Messages {
		if _, err := tx.ExecContext(ctx, `INSERT INTO messages(game_id,seq,round,tick,kind,author_id,author,body,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
			rec.ID, m.Seq, m.Round, m.Tick, string(m.Kind), m.AuthorID, m.Author, m.Body, m.CreatedAt); err != nil {
			return fmt.Errorf("insert message %d: %w", m.Seq, err)
		}
	}
	for _, v := range rec.Votes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO votes(game_id,round,voter_id,target_id,valid,reason) VALUES (?,?,?,?,?,?)`,
			rec.ID, v.Round, v.VoterID, v.TargetID, boolInt(v.Valid), nullable(v.Reason)); err != nil {
			return fmt.Errorf("insert vote r%d/a%d: %w", v.Round, v.VoterID, err)
		}
	}
	for _, w := range rec.Wills {
		if _, err := tx.ExecContext(ctx, `INSERT INTO wills(game_id,agent_id,original,final,edited,editor_id,revealed) VALUES (?,?,?,?,?,?,?)`,
			rec.ID, w.AgentID, w.Original, w.Final, boolInt(w.Edited), w.EditorID, boolInt(w.Revealed)); err != nil {
			return fmt.Errorf("insert will %d: %w", w.AgentID, err)
		}
	}
	if err := r.Events.Append(ctx, tx, events.TypeGameSaved, rec.ID, events.EventPayload{
		"winner": string(rec.Winner),
		"rounds": rec.Rounds,
		"agents": len(rec.Agents),
	}); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return tx.Commit()
}

func (r Repo) ListGames(ctx context.Context) ([]domain.GameSummary, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT g.id,g.winner,g.rounds,COUNT(a.agent_id),g.started_at,g.ended_at
		FROM games g LEFT JOIN game_agents a ON a.game_id=g.id
		GROUP BY g.id ORDER BY g.ended_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.GameSummary
	for rows.Next() {
		var s domain.GameSummary
		if err := rows.Scan(&s.ID, &s.Winner, &s.Rounds, &s.Agents, &s.StartedAt, &s.EndedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// GetGame loads the full stored record.
func (r Repo) GetGame(ctx context.Context, id string) (domain.GameRecord, error) {
	var rec domain.GameRecord
	err := r.DB.QueryRowContext(ctx, `SELECT id,winner,rounds,started_at,ended_at FROM games WHERE id=?`, id).
		Scan(&rec.ID, &rec.Winner, &rec.Rounds, &rec.StartedAt, &rec.EndedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}

	rows, err := r.DB.QueryContext(ctx, `SELECT agent_id,name,role,alive,messages,intents,passes,failures FROM game_agents WHERE game_id=? ORDER BY agent_id`, id)
	if err != nil {
		return rec, err
	}
	defer rows.Close()
	rec.Stats = map[int]domain.AgentStats{}
	for rows.Next() {
		var a domain.Agent
		var alive int
		var st domain.AgentStats
		if err := rows.Scan(&a.ID, &a.Name, &a.Role, &alive, &st.Messages, &st.Intents, &st.Passes, &st.Failures); err != nil {
			return rec, err
		}
		a.Alive = alive != 0
		a.Personality = a.Name
		rec.Agents = append(rec.Agents, a)
		rec.Stats[a.ID] = st
	}
	if err := rows.Err(); err != nil {
		return rec, err
	}

	if rec.Messages, err = r.MessagesForGame(ctx, id); err != nil {
		return rec, err
	}
	if rec.Votes, err = r.VotesForGame(ctx, id); err != nil {
		return rec, err
	}
	if rec.Wills, err = r.willsForGame(ctx, id); err != nil {
		return rec, err
	}
	return rec, nil
}

func (r Repo) MessagesForGame(ctx context.Context, id string) ([]domain.Message, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT seq,round,tick,kind,author_id,author,body,created_at FROM messages WHERE game_id=? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.Seq, &m.Round, &m.Tick, &m.Kind, &m.AuthorID, &m.Author, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) VotesForGame(ctx context.Context, id string) ([]domain.Vote, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT round,voter_id,target_id,valid,COALESCE(reason,'') FROM votes WHERE game_id=? ORDER BY round,voter_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Vote
	for rows.Next() {
		var v domain.Vote
		var valid int
		if err := rows.Scan(&v.Round, &v.VoterID, &v.TargetID, &valid, &v.Reason); err != nil {
			return nil, err
		}
		v.Valid = valid != 0
		res = append(res, v)
	}
	return res, rows.Err()
}

func (r Repo) willsForGame(ctx context.Context, id string) ([]domain.Will, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT agent_id,original,final,edited,editor_id,revealed FROM wills WHERE game_id=? ORDER BY agent_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Will
	for rows.Next() {
		var w domain.Will
		var edited, revealed int
		if err := rows.Scan(&w.AgentID, &w.Original, &w.Final, &edited, &w.EditorID, &revealed); err != nil {
			return nil, err
		}
		w.Edited = edited != 0
		w.Revealed = revealed != 0
		res = append(res, w)
	}
	return res, rows.Err()
}

// Load implements the agent memory store.
func (r Repo) Load(ctx context.Context, agent string) (domain.Memory, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT game_id,role,outcome,won,COALESCE(notes,''),played_at FROM memories WHERE agent=? ORDER BY played_at`, agent)
	if err != nil {
		return domain.Memory{}, err
	}
	defer rows.Close()
	mem := domain.Memory{Agent: agent}
	for rows.Next() {
		var rec domain.MemoryRecord
		var won int
		if err := rows.Scan(&rec.GameID, &rec.Role, &rec.Outcome, &won, &rec.Notes, &rec.PlayedAt); err != nil {
			return domain.Memory{}, err
		}
		rec.Won = won != 0
		mem.Records = append(mem.Records, rec)
	}
	return mem, rows.Err()
}

// Append implements the agent memory store.
func (r Repo) Append(ctx context.Context, agent string, recs []domain.MemoryRecord) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, rec := range recs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO memories(agent,game_id,role,outcome,won,notes,played_at) VALUES (?,?,?,?,?,?,?)`,
			agent, rec.GameID, string(rec.Role), string(rec.Outcome), boolInt(rec.Won), nullable(rec.Notes), rec.PlayedAt); err != nil {
			return fmt.Errorf("insert memory: %w", err)
		}
	}
	return tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
