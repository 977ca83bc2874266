// Package textgen is the boundary to the external text-generation service.
// The engine only sees the Generator interface; calls are assumed fallible
// and slow, so callers always pass a context with a deadline.
package textgen

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// ErrGeneration marks a generation call that failed after all configured
// attempts. Callers treat it as a pass/abstain, never as fatal.
var ErrGeneration = errors.New("text generation failed")

// Request carries one prompt to the service.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Generator produces free text and scalar scores from prompts.
type Generator interface {
	// Generate returns the model's reply to the prompt.
	Generate(ctx context.Context, req Request) (string, error)
	// Score returns a scalar in [0,1] for ranking-style prompts.
	Score(ctx context.Context, req Request) (float64, error)
}

// ParseScore extracts the first numeric token of a model reply and clamps it
// to [0,1]. Models asked for "just a number" still decorate their answers
// often enough that strict parsing is not an option.
func ParseScore(reply string) (float64, bool) {
	fields := strings.FieldsFunc(reply, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.' && r != '-'
	})
	for _, f := range fields {
		f = strings.Trim(f, ".")
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			continue
		}
		if v < 0 {
			v = 0
		}
		if v > 1 {
			// Tolerate percentage replies.
			if v <= 100 {
				v = v / 100
			} else {
				v = 1
			}
		}
		return v, true
	}
	return 0, false
}
