package core

import "context"

// Validator is implemented by services that can verify their configuration
// is complete and correct. Validate should be read-only, with no side effects.
type Validator interface {
	Validate() error
}

// Starter is implemented by services that need to start background work
// (goroutines, listeners, connections).
type Starter interface {
	Start() error
}

// Stopper is implemented by services that need to clean up resources.
// Called during shutdown in reverse order of Start().
type Stopper interface {
	Stop(ctx context.Context) error
}
