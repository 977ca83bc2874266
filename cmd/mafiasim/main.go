package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mafiasim/internal/config"
	"mafiasim/internal/db"
	"mafiasim/internal/domain"
	"mafiasim/internal/memory"
	"mafiasim/internal/migrate"
	"mafiasim/internal/personality"
	"mafiasim/internal/repo"
	"mafiasim/internal/server"
	"mafiasim/internal/session"
	"mafiasim/internal/textgen"
)

var rootCmd = &cobra.Command{
	Use:   "mafiasim",
	Short: "AI Mafia game engine",
	Long: `mafiasim runs social-deduction Mafia games between AI agents.
Agents with distinct personalities argue, vote, and leave last words; the
engine arbitrates who speaks, tallies eliminations, and archives every
finished game in the workspace database.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	_ = godotenv.Load()
	viper.SetEnvPrefix("MAFIASIM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(playCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(gamesCmd())
	rootCmd.AddCommand(transcriptCmd())
	rootCmd.AddCommand(memoryCmd())
	rootCmd.AddCommand(configCmd())
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(viper.GetString("workspace"))
	if err != nil {
		return config.Config{}, err
	}
	return *cfg, nil
}

func loadCatalog(cfg config.Config) (personality.Catalog, error) {
	if cfg.Personalities == "" {
		return personality.Default(), nil
	}
	return personality.FromFile(cfg.Personalities)
}

func playCmd() *cobra.Command {
	var seed int64
	var agents, mafia, maxRounds int
	var noPersist bool
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play one game in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				cfg.Session.Seed = seed
			}
			if cmd.Flags().Changed("agents") {
				cfg.Session.Agents = agents
				cfg.Session.Names = nil
			}
			if cmd.Flags().Changed("mafia") {
				cfg.Session.Mafia = mafia
			}
			if cmd.Flags().Changed("max-rounds") {
				cfg.Session.MaxRounds = maxRounds
			}
			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}

			var store memory.Store = memory.NewInMemory()
			var sink session.Sink
			if !noPersist {
				conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
				if err != nil {
					return err
				}
				defer conn.Close()
				if err := migrate.Migrate(conn); err != nil {
					return err
				}
				r := repo.Repo{DB: conn}
				store = r
				sink = r
			}

			sess, err := session.New(session.Options{
				Config:    cfg,
				Catalog:   catalog,
				Generator: textgen.FromConfig(cfg),
				Memory:    store,
				Sink:      sink,
				Hooks: session.Hooks{
					OnMessage: printMessage,
				},
			})
			if err != nil {
				return err
			}
			rec, err := sess.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println()
			return printOutcome(rec)
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 0, "override the session seed")
	cmd.Flags().IntVar(&agents, "agents", 0, "number of agents")
	cmd.Flags().IntVar(&mafia, "mafia", 0, "number of mafia")
	cmd.Flags().IntVar(&maxRounds, "max-rounds", 0, "round cap before the game ends undecided")
	cmd.Flags().BoolVar(&noPersist, "no-persist", false, "skip the workspace database")
	return cmd
}

func printMessage(m domain.Message) {
	switch m.Kind {
	case domain.MessageSystem:
		fmt.Printf("  -- %s\n", m.Body)
	case domain.MessageWill:
		fmt.Printf("  %s (last words): %s\n", m.Author, m.Body)
	default:
		fmt.Printf("  %s: %s\n", m.Author, m.Body)
	}
}

func printOutcome(rec domain.GameRecord) error {
	if viper.GetBool("json") {
		return printJSON(rec)
	}
	fmt.Printf("Game %s finished after %d rounds. Winner: %s\n\n", rec.ID, rec.Rounds, rec.Winner)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Role", "Alive", "Messages", "Passes", "Failures"})
	for _, a := range rec.Agents {
		st := rec.Stats[a.ID]
		tw.AppendRow(table.Row{a.ID, a.Name, a.Role, a.Alive, st.Messages, st.Passes, st.Failures})
	}
	tw.Render()
	return nil
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the observer HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			hub := server.NewHub(cfg, catalog, r, r, nil)
			handler, err := server.New(server.Config{
				Hub:      hub,
				Repo:     &r,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: os.Getenv("MAFIASIM_JWT_SECRET")},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving mafiasim API on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func gamesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "games",
		Short: "List archived games",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				games, err := r.ListGames(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(games)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Winner", "Rounds", "Agents", "Ended"})
				for _, g := range games {
					tw.AppendRow(table.Row{g.ID, g.Winner, g.Rounds, g.Agents, g.EndedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func transcriptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcript <game-id>",
		Short: "Print a finished game's conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rec, err := r.GetGame(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rec)
				}
				fmt.Printf("Game %s, winner %s, %d rounds\n\n", rec.ID, rec.Winner, rec.Rounds)
				for _, m := range rec.Messages {
					printMessage(m)
				}
				return nil
			})
		},
	}
	return cmd
}

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory <agent-name>",
		Short: "Show an agent's cross-game memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				mem, err := r.Load(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(mem)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Game", "Role", "Outcome", "Won", "Notes", "Played"})
				for _, rec := range mem.Records {
					tw.AppendRow(table.Row{rec.GameID, rec.Role, rec.Outcome, rec.Won, rec.Notes, rec.PlayedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default mafiasim.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	})
	return cfgCmd
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
