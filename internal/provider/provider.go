// Package provider abstracts the interchangeable AI backends. Which backend
// fills the primary and fallback roles is configuration, not type identity.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/taskbridgeco/taskbridge/internal/config"
)

var (
	// ErrTimeout marks a provider call that exceeded its deadline.
	ErrTimeout = errors.New("provider timeout")
	// ErrProvider marks a 4xx/5xx or malformed response from a provider.
	ErrProvider = errors.New("provider error")
)

// Annotation is the enrichment a provider extracts from an activity message.
type Annotation struct {
	Category   string   `json:"category"`
	Priority   string   `json:"priority"`
	Summary    string   `json:"summary"`
	Subtasks   []string `json:"subtasks,omitempty"`
	IsActivity bool     `json:"is_activity"`
	Confidence float64  `json:"confidence"`
}

// Provider is one AI backend. ClassifyText is synchronous; DescribeMedia is
// the synchronous media path used when the async worker times out.
type Provider interface {
	Name() string
	ClassifyText(ctx context.Context, text string) (*Annotation, error)
	DescribeMedia(ctx context.Context, ref, mimeType string) (string, error)
}

// New builds a provider from its config block.
func New(cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAI(cfg)
	case "gemini":
		return NewGemini(cfg)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// classifyPrompt instructs the model to return strict JSON matching
// Annotation. Shared by both backends so they are interchangeable.
const classifyPrompt = `You classify WhatsApp business messages. Decide whether the message describes actionable work (a request, purchase, scheduling, repair, delivery).
Respond with strict JSON only, no prose:
{"is_activity": bool, "category": string, "priority": "low"|"normal"|"high"|"urgent", "summary": string, "subtasks": [string], "confidence": number between 0 and 1}`

const describePrompt = `Describe the attached media for a task-tracking system. One short paragraph: what it shows and anything actionable.`

// wrapCallErr converts a transport error into the taxonomy the orchestrator
// switches on.
func wrapCallErr(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", name, ErrTimeout)
	}
	return fmt.Errorf("%s: %w: %v", name, ErrProvider, err)
}
