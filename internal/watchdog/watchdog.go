package watchdog

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrFetch wraps failures reported by the Fetcher.
	ErrFetch = errors.New("fetch ads")
	// ErrNotify wraps failures reported by the Notifier.
	ErrNotify = errors.New("notify owner")
)

// Params describes a watchdog to be created.
type Params struct {
	ID         uuid.UUID
	Name       string
	OwnerEmail string
	SearchURL  string
	Interval   time.Duration
}

// New builds a watchdog that has never run and has seen nothing.
func New(p Params) (*Watchdog, error) {
	w := &Watchdog{
		ID:         p.ID,
		Name:       p.Name,
		OwnerEmail: p.OwnerEmail,
		SearchURL:  p.SearchURL,
		Interval:   Duration(p.Interval),
		SeenItems:  make(map[string]Sniff),
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// Validate checks the static fields and the seen-items invariant.
func (w *Watchdog) Validate() error {
	if w.ID == uuid.Nil {
		return fmt.Errorf("watchdog id must be set")
	}
	addr, err := mail.ParseAddress(w.OwnerEmail)
	if err != nil {
		return fmt.Errorf("watchdog %s: owner_email %q is invalid: %w", w.ID, w.OwnerEmail, err)
	}
	if addr.Address != w.OwnerEmail {
		return fmt.Errorf("watchdog %s: owner_email %q must be a bare address like %q", w.ID, w.OwnerEmail, addr.Address)
	}
	u, err := url.Parse(w.SearchURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("watchdog %s: search_url %q must be an absolute http(s) URL", w.ID, w.SearchURL)
	}
	if w.Interval <= 0 {
		return fmt.Errorf("watchdog %s: interval must be > 0", w.ID)
	}
	for key, sniff := range w.SeenItems {
		if key != sniff.Ad.ExternalID {
			return fmt.Errorf("watchdog %s: seen item %q is stored under key %q", w.ID, sniff.Ad.ExternalID, key)
		}
	}
	return nil
}

// PollInterval returns the interval as a time.Duration.
func (w *Watchdog) PollInterval() time.Duration {
	return time.Duration(w.Interval)
}

// IsDue reports whether more than the poll interval has elapsed since the last
// run. A watchdog that never ran is always due.
func (w *Watchdog) IsDue(now time.Time) bool {
	if w.LastRunAt == nil {
		return true
	}
	return now.Sub(*w.LastRunAt) > w.PollInterval()
}

// NextRunAt returns now for a watchdog that never ran, LastRunAt+Interval otherwise.
func (w *Watchdog) NextRunAt(now time.Time) time.Time {
	if w.LastRunAt == nil {
		return now
	}
	return w.LastRunAt.Add(w.PollInterval())
}

// HasSeen reports whether the ad id was already observed.
func (w *Watchdog) HasSeen(externalID string) bool {
	_, ok := w.SeenItems[externalID]
	return ok
}

// Run fetches the current listing, reports the ads not seen before and records
// them as seen.
//
// New ads are marked as seen and LastRunAt is advanced even when the notifier
// fails, so an owner is never notified twice about the same ad. The notifier
// error is still returned, wrapped in ErrNotify, alongside the new ads. A fetch
// failure leaves the watchdog untouched.
//
// An ad whose title or price changed keeps its id and is therefore not new.
func (w *Watchdog) Run(ctx context.Context, now time.Time, fetcher Fetcher, notifier Notifier) ([]Ad, error) {
	ads, err := fetcher.FetchAds(ctx, w.SearchURL)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrFetch, w.SearchURL, err)
	}

	fresh := w.unseen(ads)

	var notifyErr error
	if len(fresh) > 0 {
		if err := notifier.Notify(ctx, w, fresh); err != nil {
			notifyErr = fmt.Errorf("%w %s: %w", ErrNotify, w.OwnerEmail, err)
		}
	}

	if w.SeenItems == nil {
		w.SeenItems = make(map[string]Sniff, len(fresh))
	}
	for _, ad := range fresh {
		w.SeenItems[ad.ExternalID] = Sniff{Ad: ad, FirstSeenAt: now}
	}
	ranAt := now
	w.LastRunAt = &ranAt

	return fresh, notifyErr
}

// unseen filters ads down to ids not yet recorded, keeping the first
// occurrence of ids repeated within the same listing.
func (w *Watchdog) unseen(ads []Ad) []Ad {
	fresh := make([]Ad, 0, len(ads))
	batch := make(map[string]struct{}, len(ads))
	for _, ad := range ads {
		if w.HasSeen(ad.ExternalID) {
			continue
		}
		if _, dup := batch[ad.ExternalID]; dup {
			continue
		}
		batch[ad.ExternalID] = struct{}{}
		fresh = append(fresh, ad)
	}
	return fresh
}
