package application

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/bnema/rotator/internal/domain"
	"github.com/bnema/rotator/internal/rotation"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// fakeSleeper advances the shared clock instead of blocking, so waits on a
// pool-wide rate limit resolve instantly in tests.
type fakeSleeper struct {
	clock *fakeClock
	slept []time.Duration
	err   error
}

func (s *fakeSleeper) Sleep(_ context.Context, d time.Duration) error {
	if s.err != nil {
		return s.err
	}
	s.slept = append(s.slept, d)
	s.clock.Advance(d)
	return nil
}

type memStore struct {
	storage   domain.Storage
	loadErr   error
	saveErr   error
	saves     int
	replaces  int
	lastSaved domain.Storage
}

func (m *memStore) Load(context.Context) (domain.Storage, error) {
	if m.loadErr != nil {
		return domain.Storage{}, m.loadErr
	}
	return m.storage.Clone(), nil
}

func (m *memStore) Save(_ context.Context, storage domain.Storage) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.storage = domain.MergeStorage(m.storage, storage)
	m.lastSaved = m.storage
	m.saves++
	return nil
}

func (m *memStore) Replace(_ context.Context, storage domain.Storage) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.storage = storage.Clone()
	m.lastSaved = m.storage
	m.replaces++
	return nil
}

type memStates struct {
	snapshot rotation.Snapshot
	loadErr  error
	saveErr  error
	saves    int
}

func (m *memStates) LoadSnapshot(context.Context) (rotation.Snapshot, error) {
	if m.loadErr != nil {
		return rotation.Snapshot{}, m.loadErr
	}
	return m.snapshot, nil
}

func (m *memStates) SaveSnapshot(_ context.Context, snapshot rotation.Snapshot) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snapshot = snapshot
	m.saves++
	return nil
}

type refreshResult struct {
	credentials domain.Credentials
	err         error
}

type fakeRefresher struct {
	results []refreshResult
	calls   []string
}

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken string) (domain.Credentials, error) {
	f.calls = append(f.calls, refreshToken)
	if len(f.results) == 0 {
		return domain.Credentials{AccessToken: "refreshed-" + refreshToken}, nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result.credentials, result.err
}

type sendResult struct {
	resp domain.UpstreamResponse
	err  error
}

type fakeUpstream struct {
	results []sendResult
	tokens  []string
	onSend  func()
}

func (f *fakeUpstream) Send(_ context.Context, accessToken string, _ domain.UpstreamRequest) (domain.UpstreamResponse, error) {
	if f.onSend != nil {
		f.onSend()
	}
	f.tokens = append(f.tokens, accessToken)
	if len(f.results) == 0 {
		return domain.UpstreamResponse{Status: 200}, nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result.resp, result.err
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
