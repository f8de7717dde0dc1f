package models

import "time"

// Pack is the immutable artifact produced by a successful build.
type Pack struct {
	ID    string `json:"id"`
	JobID string `json:"job_id"`

	Mode       string   `json:"mode"`
	InputValue string   `json:"input_value"`
	Language   string   `json:"language"`
	Tone       string   `json:"tone"`
	Platforms  []string `json:"platforms"`

	Genes        Genes             `json:"genes"`
	Assets       map[string]string `json:"assets"`
	Visual       Visual            `json:"visual"`
	Dominance    Dominance         `json:"dominance"`
	Sources      map[string]any    `json:"sources,omitempty"`
	PackMarkdown string            `json:"pack_markdown"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Genes captures the strategic skeleton the assets are derived from.
type Genes struct {
	Niche    string   `json:"niche"`
	Keywords []string `json:"keywords"`
	Angle    string   `json:"angle"`
	CTA      string   `json:"cta"`
	Tone     string   `json:"tone"`
	Language string   `json:"language"`
}

// Visual holds the image generation prompt for the pack.
type Visual struct {
	Prompt string `json:"prompt"`
}

// Dominance is the heuristic quality score attached to a pack.
type Dominance struct {
	Score   int      `json:"score"`
	Signals []string `json:"signals"`
	Risk    string   `json:"risk"`
}
