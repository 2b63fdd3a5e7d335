package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glidenotes/notesync/internal/db"
	apperrors "github.com/glidenotes/notesync/internal/errors"
	"github.com/glidenotes/notesync/internal/logging"
	"github.com/glidenotes/notesync/internal/models"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
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

func testQueue(t *testing.T) (*Queue, *testClock) {
	t.Helper()
	d, err := db.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	clock := &testClock{now: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)}
	return New(d.DB, WithClock(clock.Now), WithLogger(logging.Discard())), clock
}

func notePatch(title string) *models.Payload {
	return models.NotePayload(models.NotePatch{Title: models.Ptr(title)})
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 5 * time.Second},
		{3, 30 * time.Second},
		{4, 60 * time.Second},
		{5, 300 * time.Second},
		{9, 300 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.retry), "retry %d", tt.retry)
	}
}

func TestEnqueue_new(t *testing.T) {
	ctx := context.Background()
	q, clock := testQueue(t)

	op, err := q.Enqueue(ctx, models.EntityNote, "n1", models.OpCreate, notePatch("a"), 0)
	require.NoError(t, err)
	assert.NotEmpty(t, op.ID)
	assert.Equal(t, int64(1), op.Revision)
	assert.Equal(t, models.Millis(clock.Now()), op.CreatedAt)

	got, err := q.GetForEntity(ctx, models.EntityNote, "n1")
	require.NoError(t, err)
	assert.Equal(t, models.OpCreate, got.Operation)
	assert.Equal(t, "a", *got.Payload.Note.Title)
}

func TestEnqueue_validation(t *testing.T) {
	ctx := context.Background()
	q, _ := testQueue(t)

	_, err := q.Enqueue(ctx, "tag", "x", models.OpCreate, nil, 0)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	_, err = q.Enqueue(ctx, models.EntityNote, "x", "upsert", nil, 0)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	_, err = q.Enqueue(ctx, models.EntityNote, "", models.OpCreate, nil, 0)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	_, err = q.Enqueue(ctx, models.EntityFolder, "f1", models.OpUpdate, notePatch("wrong type"), 0)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestEnqueue_updatesShallowMerge(t *testing.T) {
	ctx := context.Background()
	q, _ := testQueue(t)

	_, err := q.Enqueue(ctx, models.EntityNote, "n1", models.OpUpdate,
		models.NotePayload(models.NotePatch{Title: models.Ptr("t1"), Transcript: models.Ptr("body")}), 0)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, models.EntityNote, "n1", models.OpUpdate,
		models.NotePayload(models.NotePatch{Title: models.Ptr("t2"), IsPinned: models.Ptr(true)}), 0)
	require.NoError(t, err)
	op, err := q.Enqueue(ctx, models.EntityNote, "n1", models.OpUpdate,
		models.NotePayload(models.NotePatch{Title: models.Ptr("t3")}), 0)
	require.NoError(t, err)

	assert.Equal(t, int64(3), op.Revision)
	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := q.GetForEntity(ctx, models.EntityNote, "n1")
	require.NoError(t, err)
	assert.Equal(t, models.OpUpdate, got.Operation)
	assert.Equal(t, "t3", *got.Payload.Note.Title)
	assert.Equal(t, "body", *got.Payload.Note.Transcript)
	assert.True(t, *got.Payload.Note.IsPinned)
}

func TestEnqueue_updateKeepsCreate(t *testing.T) {
	ctx := context.Background()
	q, _ := testQueue(t)

	_, err := q.Enqueue(ctx, models.EntityNote, "n1", models.OpCreate, notePatch("draft"), 0)
	require.NoError(t, err)
	op, err := q.Enqueue(ctx, models.EntityNote, "n1", models.OpUpdate,
		models.NotePayload(models.NotePatch{Transcript: models.Ptr("x")}), 0)
	require.NoError(t, err)

	assert.Equal(t, models.OpCreate, op.Operation)
	assert.Equal(t, "draft", *op.Payload.Note.Title)
	assert.Equal(t, "x", *op.Payload.Note.Transcript)
}

func TestEnqueue_deleteSupersedes(t *testing.T) {
	ctx := context.Background()
	q, _ := testQueue(t)

	first, err := q.Enqueue(ctx, models.EntityNote, "n1", models.OpUpdate, notePatch("a"), 0)
	require.NoError(t, err)
	_, err = q.Fail(ctx, first.ID, errors.New("boom"))
	require.NoError(t, err)

	op, err := q.Enqueue(ctx, models.EntityNote, "n1", models.OpDelete, notePatch("ignored"), 0)
	require.NoError(t, err)
	assert.Equal(t, models.OpDelete, op.Operation)
	assert.Nil(t, op.Payload)
	assert.Zero(t, op.RetryCount)
	assert.Equal(t, first.ID, op.ID)

	got, err := q.GetForEntity(ctx, models.EntityNote, "n1")
	require.NoError(t, err)
	assert.Nil(t, got.Payload)
	assert.Zero(t, got.ScheduledFor)
}

func TestEnqueue_editAfterDeleteIsNoop(t *testing.T) {
	ctx := context.Background()
	q, _ := testQueue(t)

	_, err := q.Enqueue(ctx, models.EntityNote, "n1", models.OpDelete, nil, 0)
	require.NoError(t, err)

	for _, op := range []models.OperationType{models.OpUpdate, models.OpCreate} {
		got, err := q.Enqueue(ctx, models.EntityNote, "n1", op, notePatch("revive"), 0)
		require.NoError(t, err)
		assert.Equal(t, models.OpDelete, got.Operation)
		assert.Equal(t, int64(1), got.Revision)
	}
}

func TestEnqueue_priorityIsMax(t *testing.T) {
	ctx := context.Background()
	q, _ := testQueue(t)

	_, err := q.Enqueue(ctx, models.EntityNote, "n1", models.OpUpdate, notePatch("a"), 5)
	require.NoError(t, err)
	op, err := q.Enqueue(ctx, models.EntityNote, "n1", models.OpUpdate, notePatch("b"), 1)
	require.NoError(t, err)
	assert.Equal(t, 5, op.Priority)

	op, err = q.Enqueue(ctx, models.EntityNote, "n1", models.OpDelete, nil, 9)
	require.NoError(t, err)
	assert.Equal(t, 9, op.Priority)
}

// Any sequence of edits to one entity leaves exactly one operation whose
// payload is the field-wise union with later values winning.
func TestEnqueue_sequenceProperty(t *testing.T) {
	ctx := context.Background()
	q, _ := testQueue(t)

	patches := []models.NotePatch{
		{Title: models.Ptr("1")},
		{Transcript: models.Ptr("t")},
		{Title: models.Ptr("2"), Tags: &[]string{"a"}},
		{IsArchived: models.Ptr(true)},
		{Tags: &[]string{"b"}},
	}
	want := models.NotePatch{}
	for _, p := range patches {
		want = want.Merge(p)
		_, err := q.Enqueue(ctx, models.EntityNote, "n1", models.OpUpdate, models.NotePayload(p), 0)
		require.NoError(t, err)
	}

	ops, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, want, *ops[0].Payload.Note)
}

func TestGetPendingOperations_order(t *testing.T) {
	ctx := context.Background()
	q, clock := testQueue(t)

	_, err := q.Enqueue(ctx, models.EntityNote, "old-low", models.OpUpdate, notePatch("a"), 0)
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = q.Enqueue(ctx, models.EntityNote, "new-high", models.OpUpdate, notePatch("b"), 10)
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = q.Enqueue(ctx, models.EntityFolder, "newest-low", models.OpDelete, nil, 0)
	require.NoError(t, err)

	ops, err := q.GetPendingOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, "new-high", ops[0].EntityID)
	assert.Equal(t, "old-low", ops[1].EntityID)
	assert.Equal(t, "newest-low", ops[2].EntityID)
}

func TestFail_backoffSchedule(t *testing.T) {
	ctx := context.Background()
	q, clock := testQueue(t)

	op, err := q.Enqueue(ctx, models.EntityNote, "n1", models.OpUpdate, notePatch("a"), 0)
	require.NoError(t, err)

	out, err := q.Fail(ctx, op.ID, errors.New("timeout"))
	require.NoError(t, err)
	assert.Equal(t, 1, out.RetryCount)
	assert.False(t, out.Dropped)
	assert.Equal(t, clock.Now().Add(time.Second), out.NextAttempt)

	pending, err := q.GetPendingOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "not due until backoff elapses")

	next, err := q.NextScheduled(ctx)
	require.NoError(t, err)
	assert.True(t, out.NextAttempt.Equal(next), "next %v want %v", next, out.NextAttempt)

	clock.Advance(time.Second)
	pending, err = q.GetPendingOperations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "timeout", pending[0].LastError)

	out, err = q.Fail(ctx, op.ID, errors.New("timeout"))
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(5*time.Second), out.NextAttempt)
}

func TestFail_fifthFailureDrops(t *testing.T) {
	ctx := context.Background()
	q, clock := testQueue(t)

	op, err := q.Enqueue(ctx, models.EntityNote, "n1", models.OpUpdate, notePatch("a"), 3)
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		out, err := q.Fail(ctx, op.ID, errors.New("bad request"))
		require.NoError(t, err)
		assert.False(t, out.Dropped, "failure %d", i)
		clock.Advance(10 * time.Minute)
	}

	out, err := q.Fail(ctx, op.ID, apperrors.New(apperrors.ErrValidation, "title too long"))
	require.NoError(t, err)
	assert.True(t, out.Dropped)
	assert.Equal(t, 5, out.RetryCount)

	pending, err := q.GetPendingOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	_, err = q.Get(ctx, op.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	failures, err := q.ListFailures(ctx)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, out.FailureID, failures[0].ID)
	assert.Equal(t, "n1", failures[0].EntityID)
	assert.Equal(t, 5, failures[0].RetryCount)
	assert.Contains(t, failures[0].LastError, "title too long")
	assert.Equal(t, "a", *failures[0].Payload.Note.Title)
}

func TestFail_missing(t *testing.T) {
	q, _ := testQueue(t)
	_, err := q.Fail(context.Background(), "nope", errors.New("x"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRetryFailure(t *testing.T) {
	ctx := context.Background()
	q, _ := testQueue(t)

	op, err := q.Enqueue(ctx, models.EntityNote, "n1", models.OpUpdate, notePatch("a"), 0)
	require.NoError(t, err)
	var out FailOutcome
	for i := 0; i < MaxRetries; i++ {
		out, err = q.Fail(ctx, op.ID, errors.New("x"))
		require.NoError(t, err)
	}
	require.True(t, out.Dropped)

	// The user edits again before retrying.
	_, err = q.Enqueue(ctx, models.EntityNote, "n1", models.OpUpdate,
		models.NotePayload(models.NotePatch{Transcript: models.Ptr("new")}), 0)
	require.NoError(t, err)

	requeued, err := q.RetryFailure(ctx, out.FailureID)
	require.NoError(t, err)
	assert.Zero(t, requeued.RetryCount)
	assert.Equal(t, "a", *requeued.Payload.Note.Title)
	assert.Equal(t, "new", *requeued.Payload.Note.Transcript)

	n, err := q.CountFailures(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = q.RetryFailure(ctx, out.FailureID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDismissFailure(t *testing.T) {
	ctx := context.Background()
	q, _ := testQueue(t)

	op, err := q.Enqueue(ctx, models.EntityFolder, "f1", models.OpDelete, nil, 0)
	require.NoError(t, err)
	var out FailOutcome
	for i := 0; i < MaxRetries; i++ {
		out, err = q.Fail(ctx, op.ID, errors.New("x"))
		require.NoError(t, err)
	}

	ok, err := q.DismissFailure(ctx, out.FailureID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = q.DismissFailure(ctx, out.FailureID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompleteRevision(t *testing.T) {
	ctx := context.Background()
	q, _ := testQueue(t)

	op, err := q.Enqueue(ctx, models.EntityNote, "n1", models.OpCreate, notePatch("a"), 0)
	require.NoError(t, err)

	// Edited while in flight.
	_, err = q.Enqueue(ctx, models.EntityNote, "n1", models.OpUpdate, notePatch("b"), 0)
	require.NoError(t, err)

	ok, err := q.CompleteRevision(ctx, op.ID, op.Revision)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, q.PromoteToUpdate(ctx, op.ID))
	got, err := q.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OpUpdate, got.Operation)
	assert.Equal(t, "b", *got.Payload.Note.Title)

	ok, err = q.CompleteRevision(ctx, got.ID, got.Revision)
	require.NoError(t, err)
	assert.True(t, ok)
	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestComplete(t *testing.T) {
	ctx := context.Background()
	q, _ := testQueue(t)

	op, err := q.Enqueue(ctx, models.EntityAction, "a1", models.OpCreate,
		models.ActionPayload(models.ActionPatch{Title: models.Ptr("call")}), 0)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, op.ID))
	assert.ErrorIs(t, q.Complete(ctx, op.ID), ErrNotFound)
}

func TestClearForEntity(t *testing.T) {
	ctx := context.Background()
	q, _ := testQueue(t)

	_, err := q.Enqueue(ctx, models.EntityNote, "n1", models.OpUpdate, notePatch("a"), 0)
	require.NoError(t, err)

	ok, err := q.ClearForEntity(ctx, models.EntityNote, "n1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = q.ClearForEntity(ctx, models.EntityNote, "n1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnqueue_concurrentSameEntity(t *testing.T) {
	ctx := context.Background()
	q, _ := testQueue(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := q.Enqueue(ctx, models.EntityNote, "n1", models.OpUpdate,
				models.NotePayload(models.NotePatch{Duration: models.Ptr(i)}), 0)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
