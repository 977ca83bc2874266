// Package server exposes the observer HTTP API: starting games, following
// them live over SSE, and reading the archive. It never exposes hidden
// roles of a running game; roles only appear in archived records.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"mafiasim/internal/config"
	"mafiasim/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Hub      *Hub
	Repo     *repo.Repo
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"game not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the mafiasim API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Hub == nil {
		return nil, fmt.Errorf("server needs a hub")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Mafiasim API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerGames(group, cfg.Hub)
	if cfg.Repo != nil {
		registerArchive(group, *cfg.Repo)
		registerMemories(group, *cfg.Repo)
	}
	registerStream(router, basePath, cfg.Hub)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrGameNotFound), errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, config.ErrInvalidConfig):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		out := &healthOutput{}
		out.Body.Status = "ok"
		return out, nil
	})
}

func registerGames(api huma.API, hub *Hub) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-game",
		Method:        http.MethodPost,
		Path:          "/games",
		Summary:       "Start a new game",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, in *startGameInput) (*statusOutput, error) {
		status, err := hub.Start(StartOverrides{
			Seed:      in.Body.Seed,
			Agents:    in.Body.Agents,
			Mafia:     in.Body.Mafia,
			MaxRounds: in.Body.MaxRounds,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &statusOutput{Body: status}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-games",
		Method:      http.MethodGet,
		Path:        "/games",
		Summary:     "List in-process games",
	}, func(ctx context.Context, _ *struct{}) (*listGamesOutput, error) {
		out := &listGamesOutput{}
		out.Body.Games = hub.List()
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-game",
		Method:      http.MethodGet,
		Path:        "/games/{id}",
		Summary:     "Live game status",
	}, func(ctx context.Context, in *gameIDInput) (*statusOutput, error) {
		status, err := hub.Status(in.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &statusOutput{Body: status}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-game-messages",
		Method:      http.MethodGet,
		Path:        "/games/{id}/messages",
		Summary:     "Conversation so far",
	}, func(ctx context.Context, in *messagesInput) (*messagesOutput, error) {
		msgs, err := hub.Messages(in.ID, in.Since)
		if err != nil {
			return nil, handleError(err)
		}
		out := &messagesOutput{}
		out.Body.Messages = msgs
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-game-votes",
		Method:      http.MethodGet,
		Path:        "/games/{id}/votes",
		Summary:     "Vote ledger so far",
	}, func(ctx context.Context, in *gameIDInput) (*votesOutput, error) {
		votes, err := hub.Votes(in.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &votesOutput{}
		out.Body.Votes = votes
		return out, nil
	})
}

func registerArchive(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-archived-games",
		Method:      http.MethodGet,
		Path:        "/archive",
		Summary:     "List finished games",
	}, func(ctx context.Context, _ *struct{}) (*archiveListOutput, error) {
		games, err := r.ListGames(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := &archiveListOutput{}
		out.Body.Games = games
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-archived-game",
		Method:      http.MethodGet,
		Path:        "/archive/{id}",
		Summary:     "Full transcript of a finished game",
	}, func(ctx context.Context, in *gameIDInput) (*archiveGameOutput, error) {
		rec, err := r.GetGame(ctx, in.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &archiveGameOutput{Body: rec}, nil
	})
}

func registerMemories(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "get-agent-memory",
		Method:      http.MethodGet,
		Path:        "/agents/{name}/memory",
		Summary:     "Cross-game memory of one agent",
	}, func(ctx context.Context, in *memoryInput) (*memoryOutput, error) {
		mem, err := r.Load(ctx, in.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &memoryOutput{Body: mem}, nil
	})
}

// registerStream serves the SSE feed outside huma; streaming does not fit
// the request/response model.
func registerStream(router chi.Router, basePath string, hub *Hub) {
	router.Get(basePath+"/games/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ch, cancel, err := hub.Subscribe(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		defer cancel()

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev := <-ch:
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Event, ev.Data)
				flusher.Flush()
				if ev.Event == eventEnd {
					return
				}
			}
		}
	})
}
