package paginator

import (
	"context"
	"errors"
)

// ErrElementNotFound is returned by a Page when an element it was asked about is gone
var ErrElementNotFound = errors.New("element not found")

// Sentinel identifies an element captured from the current render tree
type Sentinel string

// Page is the slice of a browser tab the driver needs. Implementations are used by one
// goroutine at a time.
type Page interface {
	// Navigate loads url and waits for the document to finish loading
	Navigate(ctx context.Context, url string) error
	// CardPresent reports whether at least one listing card is rendered
	CardPresent(ctx context.Context) (bool, error)
	// HTML returns the current rendered markup
	HTML(ctx context.Context) (string, error)
	// NextButton reports whether an enabled next-page control is rendered
	NextButton(ctx context.Context) (bool, error)
	// FirstCard captures the first rendered card, or returns ErrElementNotFound
	FirstCard(ctx context.Context) (Sentinel, error)
	// ClickNext activates the next-page control directly, without pointer simulation
	ClickNext(ctx context.Context) error
	// IsStale reports whether the captured element has left the render tree
	IsStale(ctx context.Context, s Sentinel) (bool, error)
}
