package mafiasimsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal mafiasim HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// GameStatus mirrors the API's live game view.
type GameStatus struct {
	ID      string `json:"id"`
	Phase   string `json:"phase"`
	Round   int    `json:"round"`
	Winner  string `json:"winner"`
	Agents  int    `json:"agents"`
	Living  int    `json:"living"`
	Started string `json:"started_at,omitempty"`
}

// Message is one conversation entry.
type Message struct {
	Seq       int    `json:"seq"`
	Round     int    `json:"round"`
	Tick      int    `json:"tick"`
	Kind      string `json:"kind"`
	AuthorID  int    `json:"author_id"`
	Author    string `json:"author"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

// Vote is one vote ledger entry.
type Vote struct {
	Round    int    `json:"round"`
	VoterID  int    `json:"voter_id"`
	TargetID int    `json:"target_id"`
	Valid    bool   `json:"valid"`
	Reason   string `json:"reason,omitempty"`
}

// GameSummary is an archive index entry.
type GameSummary struct {
	ID        string `json:"id"`
	Winner    string `json:"winner"`
	Rounds    int    `json:"rounds"`
	Agents    int    `json:"agents"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at"`
}

// StartOptions are the per-game overrides accepted by StartGame.
type StartOptions struct {
	Seed      *int64 `json:"seed,omitempty"`
	Agents    *int   `json:"agents,omitempty"`
	Mafia     *int   `json:"mafia,omitempty"`
	MaxRounds *int   `json:"max_rounds,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StartGame launches a new game.
func (c *Client) StartGame(ctx context.Context, opts StartOptions) (GameStatus, error) {
	var resp GameStatus
	err := c.do(ctx, http.MethodPost, "v0/games", opts, &resp)
	return resp, err
}

// Games lists in-process games.
func (c *Client) Games(ctx context.Context) ([]GameStatus, error) {
	var resp struct {
		Games []GameStatus `json:"games"`
	}
	err := c.do(ctx, http.MethodGet, "v0/games", nil, &resp)
	return resp.Games, err
}

// Game returns one game's live status.
func (c *Client) Game(ctx context.Context, id string) (GameStatus, error) {
	var resp GameStatus
	err := c.do(ctx, http.MethodGet, "v0/games/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Messages returns the conversation after seq.
func (c *Client) Messages(ctx context.Context, id string, since int) ([]Message, error) {
	var resp struct {
		Messages []Message `json:"messages"`
	}
	endpoint := fmt.Sprintf("v0/games/%s/messages?since=%d", url.PathEscape(id), since)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Messages, err
}

// Votes returns the vote ledger of a game.
func (c *Client) Votes(ctx context.Context, id string) ([]Vote, error) {
	var resp struct {
		Votes []Vote `json:"votes"`
	}
	err := c.do(ctx, http.MethodGet, "v0/games/"+url.PathEscape(id)+"/votes", nil, &resp)
	return resp.Votes, err
}

// Archive lists finished games.
func (c *Client) Archive(ctx context.Context) ([]GameSummary, error) {
	var resp struct {
		Games []GameSummary `json:"games"`
	}
	err := c.do(ctx, http.MethodGet, "v0/archive", nil, &resp)
	return resp.Games, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
