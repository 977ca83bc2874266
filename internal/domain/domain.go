package domain

// Role is the hidden faction assignment for an agent.
type Role string

const (
	RoleVillager Role = "villager"
	RoleMafia    Role = "mafia"
)

// Phase is a game session state.
type Phase string

const (
	PhaseSetup       Phase = "setup"
	PhaseDiscussion  Phase = "discussion"
	PhaseVoting      Phase = "voting"
	PhaseElimination Phase = "elimination"
	PhaseWinCheck    Phase = "win_check"
	PhaseEnded       Phase = "ended"
)

// Outcome is the declared result of a session.
type Outcome string

const (
	OutcomeUndecided Outcome = "undecided"
	OutcomeVillagers Outcome = "villagers"
	OutcomeMafia     Outcome = "mafia"
)

// SystemAuthorID marks messages not authored by any agent.
const SystemAuthorID = -1

type Agent struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Role        Role   `json:"role" enum:"villager,mafia"`
	Personality string `json:"personality"`
	Alive       bool   `json:"alive"`
}

// MessageKind distinguishes ordinary speech from engine-authored entries.
type MessageKind string

const (
	MessagePlayer MessageKind = "player"
	MessageSystem MessageKind = "system"
	MessageWill   MessageKind = "will"
)

// Message is an immutable entry of the conversation log. Seq is assigned by
// the log at append time and is strictly increasing without gaps.
type Message struct {
	Seq       int         `json:"seq"`
	Round     int         `json:"round"`
	Tick      int         `json:"tick"`
	Kind      MessageKind `json:"kind" enum:"player,system,will"`
	AuthorID  int         `json:"author_id"`
	Author    string      `json:"author"`
	Body      string      `json:"body"`
	CreatedAt string      `json:"created_at" format:"date-time"`
}

// Vote records one ballot entry. Invalid votes (self-votes, dead or unknown
// targets, timed-out voters) are kept with Valid=false and a reason so the
// ledger always accounts for every living voter of the round.
type Vote struct {
	Round    int    `json:"round"`
	VoterID  int    `json:"voter_id"`
	TargetID int    `json:"target_id"`
	Valid    bool   `json:"valid"`
	Reason   string `json:"reason,omitempty"`
}

// NoTarget marks a vote without a usable target (abstention or failure).
const NoTarget = -1

// Will is the two-phase death note of an eliminated agent: pending until the
// edit window closes, then revealed and immutable.
type Will struct {
	AgentID  int    `json:"agent_id"`
	Original string `json:"original"`
	Final    string `json:"final"`
	Edited   bool   `json:"edited"`
	EditorID int    `json:"editor_id"`
	Revealed bool   `json:"revealed"`
}

// MemoryRecord summarizes one finished game from a single agent's viewpoint.
type MemoryRecord struct {
	GameID   string  `json:"game_id"`
	Role     Role    `json:"role"`
	Outcome  Outcome `json:"outcome"`
	Won      bool    `json:"won"`
	Notes    string  `json:"notes,omitempty"`
	PlayedAt string  `json:"played_at" format:"date-time"`
}

// Memory is the persisted cross-game scratchpad of one agent. Append-only
// during a session; flushed to the store only when the session ends.
type Memory struct {
	Agent   string         `json:"agent"`
	Records []MemoryRecord `json:"records"`
}

// AgentStats counts per-agent activity for the session report.
type AgentStats struct {
	Messages int `json:"messages"`
	Intents  int `json:"intents"`
	Passes   int `json:"passes"`
	Failures int `json:"failures"`
}

// GameRecord is the finalized transcript handed to the persistence layer at
// session end. Write-once.
type GameRecord struct {
	ID        string             `json:"id"`
	Winner    Outcome            `json:"winner"`
	Rounds    int                `json:"rounds"`
	Agents    []Agent            `json:"agents"`
	Messages  []Message          `json:"messages"`
	Votes     []Vote             `json:"votes"`
	Wills     []Will             `json:"wills"`
	Stats     map[int]AgentStats `json:"stats,omitempty"`
	StartedAt string             `json:"started_at" format:"date-time"`
	EndedAt   string             `json:"ended_at" format:"date-time"`
}

// GameSummary is the persisted index entry for a finished game.
type GameSummary struct {
	ID        string  `json:"id"`
	Winner    Outcome `json:"winner"`
	Rounds    int     `json:"rounds"`
	Agents    int     `json:"agents"`
	StartedAt string  `json:"started_at" format:"date-time"`
	EndedAt   string  `json:"ended_at" format:"date-time"`
}
