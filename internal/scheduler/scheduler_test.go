package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/doggo-watch/doggo/internal/watchdog"
)

type mockStore struct {
	mock.Mock
	watchdogs []*watchdog.Watchdog
}

func (m *mockStore) Watchdogs() []*watchdog.Watchdog {
	return m.watchdogs
}

func (m *mockStore) Persist() error {
	args := m.Called()
	return args.Error(0)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var epoch = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func newWatchdog(t *testing.T, name, url string, interval time.Duration) *watchdog.Watchdog {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)
	w, err := watchdog.New(watchdog.Params{
		ID:         id,
		Name:       name,
		OwnerEmail: name + "@example.com",
		SearchURL:  url,
		Interval:   interval,
	})
	require.NoError(t, err)
	return w
}

func listing(ads map[string][]watchdog.Ad, failing map[string]error) watchdog.FetcherFunc {
	return func(_ context.Context, url string) ([]watchdog.Ad, error) {
		if err := failing[url]; err != nil {
			return nil, err
		}
		return ads[url], nil
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls map[uuid.UUID][]watchdog.Ad
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, w *watchdog.Watchdog, ads []watchdog.Ad) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.calls == nil {
		n.calls = make(map[uuid.UUID][]watchdog.Ad)
	}
	n.calls[w.ID] = append(n.calls[w.ID], ads...)
	return n.err
}

func TestRunCycleRunsDueWatchdogsAndPersistsOnce(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: epoch}
	fresh := newWatchdog(t, "fresh", "https://www.cyklobazar.cz/a", time.Hour)
	recent := newWatchdog(t, "recent", "https://www.cyklobazar.cz/b", time.Hour)
	ranAt := epoch.Add(-10 * time.Minute)
	recent.LastRunAt = &ranAt

	store := &mockStore{watchdogs: []*watchdog.Watchdog{fresh, recent}}
	store.On("Persist").Return(nil).Once()

	notifier := &recordingNotifier{}
	fetcher := listing(map[string][]watchdog.Ad{
		fresh.SearchURL:  {{ExternalID: "A", Title: "Bike"}},
		recent.SearchURL: {{ExternalID: "Z", Title: "Wheel"}},
	}, nil)

	s, err := New(store, fetcher, notifier, clock, Config{}, nil)
	require.NoError(t, err)

	report := s.RunCycle(context.Background())
	store.AssertExpectations(t)

	require.Len(t, report.Runs, 1)
	assert.Equal(t, fresh.ID, report.Runs[0].WatchdogID)
	assert.Equal(t, 1, report.Runs[0].NewAds)
	assert.NoError(t, report.PersistErr)
	assert.Equal(t, 2, report.Watchdogs)

	assert.True(t, fresh.HasSeen("A"))
	assert.False(t, recent.HasSeen("Z"))
	assert.Len(t, notifier.calls, 1)

	last, ok := s.LastCycleAt()
	require.True(t, ok)
	assert.True(t, epoch.Equal(last))
	assert.Equal(t, int64(1), s.Cycles())
}

func TestRunCycleIsolatesFailures(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: epoch}
	broken := newWatchdog(t, "broken", "https://down.example/list", time.Hour)
	healthy := newWatchdog(t, "healthy", "https://www.cyklobazar.cz/ok", time.Hour)

	store := &mockStore{watchdogs: []*watchdog.Watchdog{broken, healthy}}
	store.On("Persist").Return(nil).Once()

	notifier := &recordingNotifier{}
	fetcher := listing(
		map[string][]watchdog.Ad{healthy.SearchURL: {{ExternalID: "B", Title: "Frame"}}},
		map[string]error{broken.SearchURL: errors.New("connection reset")},
	)

	s, err := New(store, fetcher, notifier, clock, Config{}, zap.NewNop())
	require.NoError(t, err)

	report := s.RunCycle(context.Background())
	store.AssertExpectations(t)

	require.Len(t, report.Runs, 2)
	assert.Equal(t, 1, report.Failed())
	assert.ErrorIs(t, report.Runs[0].Err, watchdog.ErrFetch)
	assert.NoError(t, report.Runs[1].Err)

	assert.Nil(t, broken.LastRunAt, "failed fetch leaves state untouched")
	require.NotNil(t, healthy.LastRunAt)
	assert.Equal(t, []watchdog.Ad{{ExternalID: "B", Title: "Frame"}}, notifier.calls[healthy.ID])
}

func TestRunCycleNotifyFailureStillPersistsSeenItems(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: epoch}
	w := newWatchdog(t, "owner", "https://www.cyklobazar.cz/x", time.Hour)
	store := &mockStore{watchdogs: []*watchdog.Watchdog{w}}
	store.On("Persist").Return(nil).Once()

	notifier := &recordingNotifier{err: errors.New("550 mailbox unavailable")}
	fetcher := listing(map[string][]watchdog.Ad{w.SearchURL: {{ExternalID: "A", Title: "Bike"}}}, nil)

	s, err := New(store, fetcher, notifier, clock, Config{}, nil)
	require.NoError(t, err)

	report := s.RunCycle(context.Background())
	store.AssertExpectations(t)
	require.Len(t, report.Runs, 1)
	assert.ErrorIs(t, report.Runs[0].Err, watchdog.ErrNotify)
	assert.True(t, w.HasSeen("A"))
}

func TestRunCyclePersistFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	clock := &fakeClock{now: epoch}
	store := &mockStore{}
	store.On("Persist").Return(errors.New("disk full")).Twice()

	s, err := New(store, listing(nil, nil), &recordingNotifier{}, clock, Config{}, zap.New(core))
	require.NoError(t, err)

	first := s.RunCycle(context.Background())
	second := s.RunCycle(context.Background())
	require.Error(t, first.PersistErr)
	require.Error(t, second.PersistErr)
	store.AssertExpectations(t)
	assert.Equal(t, 2, logs.FilterMessage("persist watchdogs failed").Len())
}

func TestRunCycleLogsNewAds(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	clock := &fakeClock{now: epoch}
	w := newWatchdog(t, "kolo", "https://www.cyklobazar.cz/kola", time.Hour)
	store := &mockStore{watchdogs: []*watchdog.Watchdog{w}}
	store.On("Persist").Return(nil)

	fetcher := listing(map[string][]watchdog.Ad{w.SearchURL: {
		{ExternalID: "A", Title: "Bike"},
		{ExternalID: "B", Title: "Frame"},
	}}, nil)
	s, err := New(store, fetcher, &recordingNotifier{}, clock, Config{}, zap.New(core))
	require.NoError(t, err)

	s.RunCycle(context.Background())
	found := logs.FilterMessage("found 2 new ads for kolo@example.com (https://www.cyklobazar.cz/kola)")
	require.Equal(t, 1, found.Len())
	assert.Equal(t, w.ID.String(), found.All()[0].ContextMap()["watchdog_id"])
}

func TestSleepDuration(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: epoch}
	store := &mockStore{}
	s, err := New(store, listing(nil, nil), &recordingNotifier{}, clock, Config{MinSleep: 2 * time.Second}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, s.SleepDuration(epoch), "no watchdogs sleeps the floor")

	hourly := newWatchdog(t, "hourly", "https://a.example", time.Hour)
	hourlyRan := epoch.Add(-50 * time.Minute)
	hourly.LastRunAt = &hourlyRan
	quarter := newWatchdog(t, "quarter", "https://b.example", 15*time.Minute)
	quarterRan := epoch.Add(-10 * time.Minute)
	quarter.LastRunAt = &quarterRan
	store.watchdogs = []*watchdog.Watchdog{hourly, quarter}

	assert.Equal(t, 5*time.Minute, s.SleepDuration(epoch))

	overdue := newWatchdog(t, "never", "https://c.example", time.Hour)
	store.watchdogs = append(store.watchdogs, overdue)
	assert.Equal(t, 2*time.Second, s.SleepDuration(epoch), "overdue watchdogs sleep the floor")
}

func TestRunLoopsUntilCanceled(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: epoch}
	w := newWatchdog(t, "loop", "https://www.cyklobazar.cz/loop", time.Hour)
	store := &mockStore{watchdogs: []*watchdog.Watchdog{w}}
	store.On("Persist").Return(nil)

	var fetches int
	fetcher := watchdog.FetcherFunc(func(context.Context, string) ([]watchdog.Ad, error) {
		fetches++
		return []watchdog.Ad{{ExternalID: "A", Title: "Bike"}}, nil
	})
	notifier := &recordingNotifier{}

	s, err := New(store, fetcher, notifier, clock, Config{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var sleeps []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		clock.Advance(d + time.Second)
		if len(sleeps) == 3 {
			cancel()
			return context.Canceled
		}
		return nil
	}

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, []time.Duration{time.Hour, time.Hour, time.Hour}, sleeps)
	assert.Equal(t, 3, fetches)
	assert.Equal(t, int64(3), s.Cycles())
	assert.Len(t, notifier.calls[w.ID], 1, "the same ad is reported once")
}

func TestRunCycleStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: epoch}
	a := newWatchdog(t, "a", "https://a.example", time.Hour)
	b := newWatchdog(t, "b", "https://b.example", time.Hour)
	store := &mockStore{watchdogs: []*watchdog.Watchdog{a, b}}
	store.On("Persist").Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	fetcher := watchdog.FetcherFunc(func(context.Context, string) ([]watchdog.Ad, error) {
		cancel()
		return nil, nil
	})
	s, err := New(store, fetcher, &recordingNotifier{}, clock, Config{}, nil)
	require.NoError(t, err)

	report := s.RunCycle(ctx)
	assert.Len(t, report.Runs, 1)
	store.AssertExpectations(t)
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(nil, listing(nil, nil), &recordingNotifier{}, &fakeClock{}, Config{}, nil)
	require.Error(t, err)
}
