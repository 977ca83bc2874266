package server

import (
	"mafiasim/internal/domain"
	"mafiasim/internal/session"
)

type healthOutput struct {
	Body struct {
		Status string `json:"status" example:"ok"`
	}
}

type startGameInput struct {
	Body struct {
		Seed      *int64 `json:"seed,omitempty"`
		Agents    *int   `json:"agents,omitempty" minimum:"3"`
		Mafia     *int   `json:"mafia,omitempty" minimum:"1"`
		MaxRounds *int   `json:"max_rounds,omitempty" minimum:"1"`
	}
}

type statusOutput struct {
	Body session.Status
}

type listGamesOutput struct {
	Body struct {
		Games []session.Status `json:"games"`
	}
}

type gameIDInput struct {
	ID string `path:"id"`
}

type messagesInput struct {
	ID    string `path:"id"`
	Since int    `query:"since" minimum:"0"`
}

type messagesOutput struct {
	Body struct {
		Messages []domain.Message `json:"messages"`
	}
}

type votesOutput struct {
	Body struct {
		Votes []domain.Vote `json:"votes"`
	}
}

type archiveListOutput struct {
	Body struct {
		Games []domain.GameSummary `json:"games"`
	}
}

type archiveGameOutput struct {
	Body domain.GameRecord
}

type memoryInput struct {
	Name string `path:"name"`
}

type memoryOutput struct {
	Body domain.Memory
}
