// Package llm provides the text-generation capability.
package llm

import (
	"context"
	"fmt"
)

// Client is the interface all generation providers implement. Generate
// is the only operation the conversation engine needs: prompt in, text
// out, bounded by the context deadline.
type Client interface {
	// Generate returns a completion for prompt. Failures, timeouts, and
	// empty completions all surface as *GenerationError.
	Generate(ctx context.Context, prompt string) (string, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// GenerationError wraps any failure of the generation backend. Callers
// treat every GenerationError identically: fall back to the catalog,
// never surface it to the user.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
