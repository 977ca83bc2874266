package main

import (
	"context"
	"fmt"

	"mafiasim/internal/config"
	"mafiasim/internal/db"
	"mafiasim/internal/migrate"
	"mafiasim/internal/repo"
	"mafiasim/internal/session"
	"mafiasim/internal/textgen"
)

// Manual smoke run: scripted game end to end against a throwaway workspace.
func main() {
	workspace := "/tmp/mafiasim-smoke"
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		panic(err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		panic(err)
	}
	r := repo.Repo{DB: conn}

	cfg := *config.Default()
	cfg.Session.MessageBudget = 5
	sess, err := session.New(session.Options{
		Config:    cfg,
		Generator: textgen.NewScripted(cfg.Session.Seed),
		Memory:    r,
		Sink:      r,
	})
	if err != nil {
		panic(err)
	}
	rec, err := sess.Run(context.Background())
	if err != nil {
		panic(err)
	}
	fmt.Printf("game %s: winner=%s rounds=%d messages=%d votes=%d wills=%d\n",
		rec.ID, rec.Winner, rec.Rounds, len(rec.Messages), len(rec.Votes), len(rec.Wills))

	games, err := r.ListGames(context.Background())
	if err != nil {
		panic(err)
	}
	fmt.Printf("archive now holds %d game(s)\n", len(games))
}
