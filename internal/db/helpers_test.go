package db

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/glidenotes/notesync/internal/uuid"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testDB opens a migrated database in a temp dir.
func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func testRepo(t *testing.T) (*Repository, *testClock) {
	t.Helper()
	clock := newTestClock()
	return NewRepository(testDB(t).DB, WithClock(clock.Now), WithIDSource(uuid.Sequence("local"))), clock
}
