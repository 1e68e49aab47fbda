package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after), "%v not within [%v, %v]", got, before, after)
	assert.Equal(t, got.String(), got.Round(0).String(), "monotonic reading is stripped")
}

func TestClockNowNonDecreasing(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	second := clk.Now()
	assert.False(t, second.Before(first))
}

func TestFrozen(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	clk := Frozen{At: at}
	assert.Equal(t, at, clk.Now())
	assert.Equal(t, at, clk.Now())
}
