package schemas

import (
	"context"
	"time"
)

// -- Oracle Schemas & Interface --

// GenerationOptions controls the text generation process of the oracle.
type GenerationOptions struct {
	Temperature float64 `json:"temperature"` // Controls randomness. Lower is more deterministic.
	MaxTokens   int     `json:"max_tokens"`  // Upper bound on the completion size. Zero uses the provider default.
}

// GenerationRequest encapsulates a complete request to the code-generation
// oracle: the system instruction, the user prompt describing the failing
// function, and generation parameters.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Options      GenerationOptions `json:"options"`
}

// Oracle is the external code-generation service. It maps a structured prompt
// to raw function-body text. The engine treats it as an opaque black box and
// owns no retry policy beyond its own attempt rounds; providers may retry
// transport-level failures internally.
type Oracle interface {
	// Generate produces candidate function-body text for the request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close releases any resources held by the client.
	Close() error
}

// -- Cache Schemas --

// DiffStats summarizes the unified diff between the original snapshot and the
// accepted candidate.
type DiffStats struct {
	Hunks   int `json:"hunks"`
	Added   int `json:"added"`
	Deleted int `json:"deleted"`
}

// ArtifactPaths lists the absolute locations of everything the cache store
// wrote for one identity. Optional artifacts are empty when absent.
type ArtifactPaths struct {
	Candidate string `json:"candidate"`
	Original  string `json:"original,omitempty"`
	Diff      string `json:"diff,omitempty"`
	DiffMD    string `json:"diff_md,omitempty"`
	DiffHTML  string `json:"diff_html,omitempty"`
	Meta      string `json:"meta,omitempty"`
}

// CacheRecord is the durable description of one accepted candidate. Only the
// latest accepted candidate is retained per identity; a subsequent Save
// overwrites the record in place.
type CacheRecord struct {
	ID           string           `json:"id"`
	Identity     FunctionIdentity `json:"identity"`
	SafeName     string           `json:"safe_name"`
	Paths        ArtifactPaths    `json:"paths"`
	Stats        DiffStats        `json:"stats"`
	GeneratedUTC time.Time        `json:"generated_utc"`
}
