package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig marks a configuration rejected at setup. A session is
// never started on top of an invalid config.
var ErrInvalidConfig = errors.New("invalid session config")

// Tie-break policies for tied vote tallies.
const (
	TieBreakSeeded        = "seeded"
	TieBreakNoElimination = "no-elimination"
)

// Generation providers.
const (
	ProviderOpenAI   = "openai"
	ProviderScripted = "scripted"
)

// Duration wraps time.Duration so YAML can carry values like "15s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config models mafiasim.yml.
type Config struct {
	Session struct {
		Agents            int      `yaml:"agents"`
		Mafia             int      `yaml:"mafia"`
		Names             []string `yaml:"names"`
		MessageBudget     int      `yaml:"message_budget"`
		SpeakThreshold    float64  `yaml:"speak_threshold"`
		TieBreak          string   `yaml:"tie_break"`
		Seed              int64    `yaml:"seed"`
		MaxRounds         int      `yaml:"max_rounds"`
		EvaluationTimeout Duration `yaml:"evaluation_timeout"`
	} `yaml:"session"`
	Generation struct {
		Provider    string   `yaml:"provider"`
		BaseURL     string   `yaml:"base_url"`
		Model       string   `yaml:"model"`
		APIKeyEnv   string   `yaml:"api_key_env"`
		Temperature float64  `yaml:"temperature"`
		MaxTokens   int      `yaml:"max_tokens"`
		MaxAttempts int      `yaml:"max_attempts"`
		Backoff     Duration `yaml:"backoff"`
	} `yaml:"generation"`
	// Personalities optionally points at a catalog YAML file; the embedded
	// catalog is used when empty.
	Personalities string `yaml:"personalities"`
}

// Validate ensures the config can seat a playable game.
func (c *Config) Validate() error {
	s := c.Session
	if s.Agents < 3 {
		return fmt.Errorf("%w: at least 3 agents required, got %d", ErrInvalidConfig, s.Agents)
	}
	if s.Mafia < 1 {
		return fmt.Errorf("%w: at least 1 mafia required", ErrInvalidConfig)
	}
	if 2*s.Mafia >= s.Agents {
		return fmt.Errorf("%w: %d mafia among %d agents decides the game at setup", ErrInvalidConfig, s.Mafia, s.Agents)
	}
	if len(s.Names) > 0 {
		if len(s.Names) != s.Agents {
			return fmt.Errorf("%w: %d names for %d agents", ErrInvalidConfig, len(s.Names), s.Agents)
		}
		seen := map[string]bool{}
		for _, n := range s.Names {
			if n == "" {
				return fmt.Errorf("%w: empty agent name", ErrInvalidConfig)
			}
			if seen[n] {
				return fmt.Errorf("%w: duplicate agent name %s", ErrInvalidConfig, n)
			}
			seen[n] = true
		}
	}
	if s.MessageBudget < 1 {
		return fmt.Errorf("%w: message_budget must be positive", ErrInvalidConfig)
	}
	if s.SpeakThreshold < 0 || s.SpeakThreshold > 1 {
		return fmt.Errorf("%w: speak_threshold must be in [0,1]", ErrInvalidConfig)
	}
	switch s.TieBreak {
	case TieBreakSeeded, TieBreakNoElimination:
	default:
		return fmt.Errorf("%w: unknown tie_break %q", ErrInvalidConfig, s.TieBreak)
	}
	if s.EvaluationTimeout.Std() <= 0 {
		return fmt.Errorf("%w: evaluation_timeout must be positive", ErrInvalidConfig)
	}
	if s.MaxRounds < 0 {
		return fmt.Errorf("%w: max_rounds must not be negative", ErrInvalidConfig)
	}
	g := c.Generation
	switch g.Provider {
	case ProviderOpenAI, ProviderScripted:
	default:
		return fmt.Errorf("%w: unknown generation provider %q", ErrInvalidConfig, g.Provider)
	}
	if g.Provider == ProviderOpenAI && g.Model == "" {
		return fmt.Errorf("%w: generation.model is required for provider openai", ErrInvalidConfig)
	}
	if g.MaxAttempts < 1 {
		return fmt.Errorf("%w: generation.max_attempts must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "mafiasim.yml")
}

// Load reads and validates config from a workspace directory. The embedded
// default is returned when no file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Fields absent
// from the document keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in session config.
func Default() *Config {
	var cfg Config
	cfg.Session.Agents = 7
	cfg.Session.Mafia = 2
	cfg.Session.MessageBudget = 10
	cfg.Session.SpeakThreshold = 0.25
	cfg.Session.TieBreak = TieBreakSeeded
	cfg.Session.Seed = 1
	cfg.Session.MaxRounds = 20
	cfg.Session.EvaluationTimeout = Duration(15 * time.Second)
	cfg.Generation.Provider = ProviderScripted
	cfg.Generation.BaseURL = "https://api.openai.com/v1"
	cfg.Generation.Model = "gpt-4o-mini"
	cfg.Generation.APIKeyEnv = "OPENAI_API_KEY"
	cfg.Generation.Temperature = 0.75
	cfg.Generation.MaxTokens = 512
	cfg.Generation.MaxAttempts = 3
	cfg.Generation.Backoff = Duration(2 * time.Second)
	return &cfg
}

// GenerateDefault returns the default config as YAML for `config init`.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `session:
  agents: 7
  mafia: 2
  # names: [Aryan, Jay, Kshitij, Laavanya, Anushka, Navya, Khushi]
  message_budget: 10
  speak_threshold: 0.25
  tie_break: seeded           # seeded | no-elimination
  seed: 1
  max_rounds: 20
  evaluation_timeout: 15s

generation:
  provider: scripted          # scripted | openai
  base_url: https://api.openai.com/v1
  model: gpt-4o-mini
  api_key_env: OPENAI_API_KEY
  temperature: 0.75
  max_tokens: 512
  max_attempts: 3
  backoff: 2s

# personalities: ./personalities.yml
`
