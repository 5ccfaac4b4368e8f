package agent

import (
	"errors"
	"fmt"
)

// Common sentinel errors for orchestration.
var (
	// ErrTooManyToolRounds indicates the loop exceeded its round limit
	// without the model producing a final answer.
	ErrTooManyToolRounds = errors.New("too many tool rounds")

	// ErrNoProvider indicates no model provider is configured.
	ErrNoProvider = errors.New("no model provider configured")
)

// ModelProviderError wraps a failure of the model endpoint. It is fatal for
// the current turn: nothing from the turn is persisted and the error surfaces
// to the caller.
type ModelProviderError struct {
	Provider string
	Err      error
}

func (e *ModelProviderError) Error() string {
	return fmt.Sprintf("model provider %s: %v", e.Provider, e.Err)
}

func (e *ModelProviderError) Unwrap() error { return e.Err }
