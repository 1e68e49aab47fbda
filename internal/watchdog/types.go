package watchdog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ad is a single listing as reported by a Fetcher.
type Ad struct {
	ExternalID string `json:"external_id"`
	Title      string `json:"title"`
}

// Sniff records that a watchdog has observed an ad.
type Sniff struct {
	Ad          Ad        `json:"ad"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}

// Duration is a time.Duration persisted as a Go duration string ("1h0m0s").
type Duration time.Duration

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v))
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}

// Watchdog is a recurring search plus everything it has already seen.
type Watchdog struct {
	ID         uuid.UUID        `json:"id"`
	Name       string           `json:"name"`
	OwnerEmail string           `json:"owner_email"`
	SearchURL  string           `json:"search_url"`
	Interval   Duration         `json:"interval"`
	LastRunAt  *time.Time       `json:"last_run_at,omitempty"`
	SeenItems  map[string]Sniff `json:"seen_items"`
}
