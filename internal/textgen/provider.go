package textgen

import (
	"os"

	"mafiasim/internal/config"
)

// FromConfig builds the generator the config asks for. The scripted provider
// needs no credentials and is the default for offline runs.
func FromConfig(cfg config.Config) Generator {
	if cfg.Generation.Provider == config.ProviderOpenAI {
		return NewOpenAI(OpenAIConfig{
			BaseURL:     cfg.Generation.BaseURL,
			APIKey:      os.Getenv(cfg.Generation.APIKeyEnv),
			Model:       cfg.Generation.Model,
			Temperature: cfg.Generation.Temperature,
			MaxTokens:   cfg.Generation.MaxTokens,
			MaxAttempts: cfg.Generation.MaxAttempts,
			Backoff:     cfg.Generation.Backoff.Std(),
		})
	}
	return NewScripted(cfg.Session.Seed)
}
