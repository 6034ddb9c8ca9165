package llm

import (
	"context"
	"time"
)

// Extractor is the semantic extractor boundary. Implementations call an
// external model with the window text and an optional regulatory
// context blob, and return the raw model output. The adapter owns
// parsing, validation, and offset reconciliation.
type Extractor interface {
	Extract(ctx context.Context, windowText, contextText string) (string, error)
}

// ExtractionConfig holds configuration for extraction calls.
type ExtractionConfig struct {
	ToolName     string                 // The MCP tool name to call
	Model        string                 // Model name (e.g., "gpt-4", "claude-3")
	Temperature  float64                // Controls randomness (0.0-1.0)
	MaxTokens    int                    // Maximum tokens to generate
	ExtraParams  map[string]interface{} // Any additional model parameters
	Timeout      time.Duration          // Per-call timeout
	RetryCount   int                    // Number of retries on failure
	RetryBackoff time.Duration          // Backoff duration between retries

	// ContextText is the regulatory context supplied with each call.
	// When empty a built-in rule summary is substituted.
	ContextText string

	RateLimitEnabled  bool // Enable rate limiting
	RequestsPerMinute int  // Max requests per minute (for rate limiting)

	// AuditLevel controls request logging: "minimal", "standard", "verbose"
	AuditLevel string
}

// DefaultExtractionConfig returns the stock extraction configuration.
func DefaultExtractionConfig() ExtractionConfig {
	return ExtractionConfig{
		ToolName:     "deid.extract",
		Model:        "default",
		Temperature:  0.0,
		MaxTokens:    1024,
		Timeout:      30 * time.Second,
		RetryCount:   2,
		RetryBackoff: 500 * time.Millisecond,
		AuditLevel:   "standard",
	}
}

// ExtractionOutcome tags how a window's extraction was resolved.
type ExtractionOutcome string

const (
	// OutcomeStructured means the model returned valid schema output
	OutcomeStructured ExtractionOutcome = "structured"

	// OutcomeUnstructured means schema validation failed and the
	// free-text fallback parse produced the entities
	OutcomeUnstructured ExtractionOutcome = "unstructured"

	// OutcomeFailed means both parses failed or the call itself failed
	OutcomeFailed ExtractionOutcome = "failed"
)

// schemaEntity is one entity in the structured response shape the
// model is asked to produce.
type schemaEntity struct {
	EntityText string  `json:"entity_text"`
	Type       string  `json:"type"`
	LocalStart int     `json:"local_start"`
	LocalEnd   int     `json:"local_end"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// schemaResponse is the envelope form of the structured response. A
// bare JSON array of entities is also accepted.
type schemaResponse struct {
	Entities []schemaEntity `json:"entities"`
}
