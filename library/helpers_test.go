package library

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: epoch} }

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

type fixture struct {
	store      Store
	catalog    *Catalog
	membership *Membership
	ledger     *LendingLedger
	clock      *fakeClock
}

func newFixture(t *testing.T, store Store, opts ...LedgerOption) *fixture {
	t.Helper()
	clock := newFakeClock()
	catalog, err := NewCatalog(store)
	require.NoError(t, err)
	membership, err := NewMembership(store)
	require.NoError(t, err)
	ledger, err := NewLendingLedger(catalog, membership, store, append([]LedgerOption{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return &fixture{store: store, catalog: catalog, membership: membership, ledger: ledger, clock: clock}
}

func (f *fixture) addBook(t *testing.T, title string) BookID {
	t.Helper()
	id, err := f.catalog.AddBook(title, "manuals", 8, 3)
	require.NoError(t, err)
	return id
}

// logSpy captures slog records for assertions.
type logSpy struct {
	mu      sync.Mutex
	records []slog.Record
}

func (s *logSpy) Handle(_ context.Context, r slog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

func (s *logSpy) Enabled(context.Context, slog.Level) bool { return true }
func (s *logSpy) WithAttrs([]slog.Attr) slog.Handler      { return s }
func (s *logSpy) WithGroup(string) slog.Handler           { return s }

func (s *logSpy) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Message)
	}
	return out
}

var errDiskFull = errors.New("disk full")

// flakyStore fails loan writes while failLoans is set.
type flakyStore struct {
	*MemoryStore
	failLoans bool
}

func (s *flakyStore) PutLoan(l Loan) error {
	if s.failLoans {
		return errDiskFull
	}
	return s.MemoryStore.PutLoan(l)
}
