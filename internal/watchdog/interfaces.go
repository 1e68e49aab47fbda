package watchdog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Fetcher lists the ads currently present on a search page. Implementations
// must not have side effects visible to the watchdog.
type Fetcher interface {
	FetchAds(ctx context.Context, searchURL string) ([]Ad, error)
}

// Notifier tells the owner of a watchdog about newly found ads.
type Notifier interface {
	Notify(ctx context.Context, w *Watchdog, ads []Ad) error
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, searchURL string) ([]Ad, error)

// FetchAds calls f.
func (f FetcherFunc) FetchAds(ctx context.Context, searchURL string) ([]Ad, error) {
	return f(ctx, searchURL)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, w *Watchdog, ads []Ad) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, w *Watchdog, ads []Ad) error {
	return f(ctx, w, ads)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces watchdog IDs.
type IDGenerator interface {
	NewID() (uuid.UUID, error)
}
