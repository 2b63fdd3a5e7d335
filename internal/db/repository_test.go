package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/glidenotes/notesync/internal/errors"
	"github.com/glidenotes/notesync/internal/models"
)

func TestCreateNote_pending(t *testing.T) {
	ctx := context.Background()
	r, clock := testRepo(t)

	n := &models.Note{Title: "Standup", Tags: []string{"work"}}
	require.NoError(t, r.CreateNote(ctx, n))

	assert.Equal(t, "local-1", n.LocalID)
	assert.Equal(t, models.SyncStatusPending, n.SyncStatus)
	assert.Equal(t, models.Millis(clock.Now()), n.LocalUpdatedAt)
	assert.Zero(t, n.ServerUpdatedAt)

	got, err := r.GetNote(ctx, n.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "Standup", got.Title)
	assert.Equal(t, []string{"work"}, got.Tags)
	assert.Empty(t, got.ServerID)
}

func TestCreateNote_withServerIDIsSynced(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	n := &models.Note{SyncFields: models.SyncFields{ServerID: "srv-1", ServerUpdatedAt: 5000}, Title: "x"}
	require.NoError(t, r.CreateNote(ctx, n))

	got, err := r.GetNoteByServerID(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)
	assert.Equal(t, int64(5000), got.LocalUpdatedAt)
	assert.Equal(t, int64(5000), got.ServerUpdatedAt)
}

func TestGetNote_notFound(t *testing.T) {
	r, _ := testRepo(t)
	_, err := r.GetNote(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateNote_local(t *testing.T) {
	ctx := context.Background()
	r, clock := testRepo(t)

	n := &models.Note{SyncFields: models.SyncFields{ServerID: "srv-1", ServerUpdatedAt: models.Millis(clock.Now())}, Title: "a", Transcript: "keep"}
	require.NoError(t, r.CreateNote(ctx, n))
	clock.Advance(time.Minute)

	got, err := r.UpdateNote(ctx, n.LocalID, models.NotePatch{Title: models.Ptr("b")}, OriginLocal)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Title)
	assert.Equal(t, "keep", got.Transcript)
	assert.Equal(t, models.SyncStatusPending, got.SyncStatus)
	assert.Equal(t, models.Millis(clock.Now()), got.LocalUpdatedAt)
	assert.True(t, got.HasLocalChanges())
}

func TestUpdateNote_localStampAlwaysAdvances(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	n := &models.Note{Title: "a"}
	require.NoError(t, r.CreateNote(ctx, n))

	first, err := r.UpdateNote(ctx, n.LocalID, models.NotePatch{Title: models.Ptr("b")}, OriginLocal)
	require.NoError(t, err)
	second, err := r.UpdateNote(ctx, n.LocalID, models.NotePatch{Title: models.Ptr("c")}, OriginLocal)
	require.NoError(t, err)
	assert.Greater(t, second.LocalUpdatedAt, first.LocalUpdatedAt)
}

func TestUpdateNote_remoteKeepsStatus(t *testing.T) {
	ctx := context.Background()
	r, clock := testRepo(t)

	n := &models.Note{SyncFields: models.SyncFields{ServerID: "srv-1", ServerUpdatedAt: 1000}}
	require.NoError(t, r.CreateNote(ctx, n))
	clock.Advance(time.Hour)

	got, err := r.UpdateNote(ctx, n.LocalID, models.NotePatch{AudioURL: models.Ptr("https://cdn/a.m4a")}, OriginRemote)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)
	assert.Equal(t, int64(1000), got.LocalUpdatedAt)
}

func TestUpdateNote_missingOrDeleted(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	_, err := r.UpdateNote(ctx, "missing", models.NotePatch{}, OriginLocal)
	assert.ErrorIs(t, err, ErrNotFound)

	n := &models.Note{Title: "a"}
	require.NoError(t, r.CreateNote(ctx, n))
	ok, err := r.SoftDeleteNote(ctx, n.LocalID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = r.UpdateNote(ctx, n.LocalID, models.NotePatch{Title: models.Ptr("b")}, OriginLocal)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSoftDeleteNote(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	ok, err := r.SoftDeleteNote(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	n := &models.Note{SyncFields: models.SyncFields{ServerID: "srv", ServerUpdatedAt: 10}, Title: "a"}
	require.NoError(t, r.CreateNote(ctx, n))
	ok, err = r.SoftDeleteNote(ctx, n.LocalID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := r.GetNote(ctx, n.LocalID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	assert.NotZero(t, got.DeletedAt)
	assert.Equal(t, models.SyncStatusPending, got.SyncStatus)

	list, err := r.ListNotes(ctx, NoteFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	restored, err := r.RestoreNote(ctx, n.LocalID)
	require.NoError(t, err)
	assert.False(t, restored.IsDeleted)
	assert.Zero(t, restored.DeletedAt)
}

func TestSoftDeleteFolder_systemProtected(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	sys := &models.Folder{Name: models.SystemFolderName, IsSystem: true}
	require.NoError(t, r.CreateFolder(ctx, sys))
	ok, err := r.SoftDeleteFolder(ctx, sys.LocalID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := r.GetFolder(ctx, sys.LocalID)
	require.NoError(t, err)
	assert.False(t, got.IsDeleted)

	user := &models.Folder{Name: "Work"}
	require.NoError(t, r.CreateFolder(ctx, user))
	ok, err = r.SoftDeleteFolder(ctx, user.LocalID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpsertNoteFromRemote(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	rec := func(title string, ts int64) *models.Note {
		return &models.Note{SyncFields: models.SyncFields{ServerID: "srv-9", ServerUpdatedAt: ts}, Title: title}
	}

	res, err := r.UpsertNoteFromRemote(ctx, rec("v1", 100))
	require.NoError(t, err)
	assert.Equal(t, UpsertCreated, res.Outcome)
	localID := res.LocalID

	res, err = r.UpsertNoteFromRemote(ctx, rec("v1", 100))
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{LocalID: localID, Outcome: UpsertUnchanged}, res)

	res, err = r.UpsertNoteFromRemote(ctx, rec("stale", 50))
	require.NoError(t, err)
	assert.Equal(t, UpsertUnchanged, res.Outcome)

	res, err = r.UpsertNoteFromRemote(ctx, rec("v2", 200))
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{LocalID: localID, Outcome: UpsertUpdated}, res)

	got, err := r.GetNote(ctx, localID)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Title)
	assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)
	assert.Equal(t, int64(200), got.ServerUpdatedAt)
	assert.LessOrEqual(t, got.LocalUpdatedAt, got.ServerUpdatedAt)

	n, err := r.Count(ctx, models.EntityNote, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsertNoteFromRemote_replayIsUnobservable(t *testing.T) {
	ctx := context.Background()
	r, clock := testRepo(t)

	rec := &models.Note{SyncFields: models.SyncFields{ServerID: "s", ServerUpdatedAt: 100}, Title: "t", Tags: []string{"x"}}
	res, err := r.UpsertNoteFromRemote(ctx, rec.Clone())
	require.NoError(t, err)
	before, err := r.GetNote(ctx, res.LocalID)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = r.UpsertNoteFromRemote(ctx, rec.Clone())
	require.NoError(t, err)
	after, err := r.GetNote(ctx, res.LocalID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestUpsertNoteFromRemote_requiresServerID(t *testing.T) {
	r, _ := testRepo(t)
	_, err := r.UpsertNoteFromRemote(context.Background(), &models.Note{Title: "x"})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestUpsertFolderFromRemote_linksSystemFolder(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	local := &models.Folder{Name: models.SystemFolderName, IsSystem: true}
	require.NoError(t, r.CreateFolder(ctx, local))

	res, err := r.UpsertFolderFromRemote(ctx, &models.Folder{
		SyncFields: models.SyncFields{ServerID: "srv-all", ServerUpdatedAt: 100},
		Name:       models.SystemFolderName,
		IsSystem:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{LocalID: local.LocalID, Outcome: UpsertLinked}, res)

	got, err := r.GetFolder(ctx, local.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "srv-all", got.ServerID)
	assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)

	n, err := r.Count(ctx, models.EntityFolder, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsertFolderFromRemote_userFolderWithSameNameIsNotLinked(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	require.NoError(t, r.CreateFolder(ctx, &models.Folder{Name: "Work"}))
	res, err := r.UpsertFolderFromRemote(ctx, &models.Folder{
		SyncFields: models.SyncFields{ServerID: "srv-w", ServerUpdatedAt: 1},
		Name:       "Work",
	})
	require.NoError(t, err)
	assert.Equal(t, UpsertCreated, res.Outcome)
}

func TestMarkSynced(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	n := &models.Note{Title: "a"}
	require.NoError(t, r.CreateNote(ctx, n))
	observed := n.LocalUpdatedAt
	serverTS := observed + 500

	synced, err := r.MarkSynced(ctx, models.EntityNote, n.LocalID, "srv-1", serverTS, observed)
	require.NoError(t, err)
	assert.True(t, synced)

	got, err := r.GetNote(ctx, n.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "srv-1", got.ServerID)
	assert.Equal(t, serverTS, got.ServerUpdatedAt)
	assert.LessOrEqual(t, got.LocalUpdatedAt, got.ServerUpdatedAt)
}

func TestMarkSynced_clampsLocalStampBehindServerClock(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	n := &models.Note{Title: "a"}
	require.NoError(t, r.CreateNote(ctx, n))

	synced, err := r.MarkSynced(ctx, models.EntityNote, n.LocalID, "srv-1", n.LocalUpdatedAt-1000, n.LocalUpdatedAt)
	require.NoError(t, err)
	assert.True(t, synced)

	got, err := r.GetNote(ctx, n.LocalID)
	require.NoError(t, err)
	assert.Equal(t, got.ServerUpdatedAt, got.LocalUpdatedAt)
}

func TestMarkSynced_editDuringDispatchStaysPending(t *testing.T) {
	ctx := context.Background()
	r, clock := testRepo(t)

	n := &models.Note{Title: "a"}
	require.NoError(t, r.CreateNote(ctx, n))
	observed := n.LocalUpdatedAt

	clock.Advance(time.Second)
	_, err := r.UpdateNote(ctx, n.LocalID, models.NotePatch{Title: models.Ptr("b")}, OriginLocal)
	require.NoError(t, err)

	synced, err := r.MarkSynced(ctx, models.EntityNote, n.LocalID, "srv-1", observed+10, observed)
	require.NoError(t, err)
	assert.False(t, synced)

	got, err := r.GetNote(ctx, n.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "srv-1", got.ServerID, "server id is recorded even when the record stays pending")
	assert.Equal(t, models.SyncStatusPending, got.SyncStatus)
}

func TestMarkSynced_editBeforeServerStampStaysLocallyChanged(t *testing.T) {
	ctx := context.Background()
	r, clock := testRepo(t)

	n := &models.Note{Title: "a"}
	require.NoError(t, r.CreateNote(ctx, n))
	observed := n.LocalUpdatedAt

	clock.Advance(time.Second)
	edited, err := r.UpdateNote(ctx, n.LocalID, models.NotePatch{Title: models.Ptr("b")}, OriginLocal)
	require.NoError(t, err)
	serverTS := edited.LocalUpdatedAt + 1000

	synced, err := r.MarkSynced(ctx, models.EntityNote, n.LocalID, "srv-1", serverTS, observed)
	require.NoError(t, err)
	assert.False(t, synced)

	got, err := r.GetNote(ctx, n.LocalID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, got.SyncStatus)
	assert.Equal(t, serverTS, got.ServerUpdatedAt)
	assert.Greater(t, got.LocalUpdatedAt, got.ServerUpdatedAt)
	assert.True(t, got.HasLocalChanges())
}

func TestMarkSynced_serverIDIsImmutable(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	n := &models.Note{SyncFields: models.SyncFields{ServerID: "srv-1", ServerUpdatedAt: 1}}
	require.NoError(t, r.CreateNote(ctx, n))

	_, err := r.MarkSynced(ctx, models.EntityNote, n.LocalID, "srv-2", 10, n.LocalUpdatedAt)
	assert.True(t, apperrors.Is(err, apperrors.ErrServerIDConflict))

	_, err = r.MarkSynced(ctx, models.EntityNote, "missing", "srv", 10, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServerAndLocalIDLookups(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	f := &models.Folder{Name: "Inbox"}
	require.NoError(t, r.CreateFolder(ctx, f))

	sid, err := r.ServerIDOf(ctx, models.EntityFolder, f.LocalID)
	require.NoError(t, err)
	assert.Empty(t, sid)

	_, err = r.MarkSynced(ctx, models.EntityFolder, f.LocalID, "srv-f", 10, f.LocalUpdatedAt)
	require.NoError(t, err)

	sid, err = r.ServerIDOf(ctx, models.EntityFolder, f.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "srv-f", sid)

	lid, err := r.LocalIDOf(ctx, models.EntityFolder, "srv-f")
	require.NoError(t, err)
	assert.Equal(t, f.LocalID, lid)

	_, err = r.LocalIDOf(ctx, models.EntityFolder, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.ServerIDOf(ctx, "tag", "x")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestGetEntity(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	a := &models.Action{NoteID: "n1", ActionType: models.ActionReminder, Title: "call"}
	require.NoError(t, r.CreateAction(ctx, a))

	e, err := r.GetEntity(ctx, models.EntityAction, a.LocalID)
	require.NoError(t, err)
	got, ok := e.(*models.Action)
	require.True(t, ok)
	assert.Equal(t, models.ActionStatusPending, got.Status)
	assert.Equal(t, models.ActionPriorityMedium, got.Priority)
	assert.Equal(t, models.EntityAction, e.EntityType())
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	n := &models.Note{Title: "a"}
	require.NoError(t, r.CreateNote(ctx, n))

	ok, err := r.Purge(ctx, models.EntityNote, n.LocalID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.Purge(ctx, models.EntityNote, n.LocalID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPruneMissing(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	keep := &models.Note{SyncFields: models.SyncFields{ServerID: "keep", ServerUpdatedAt: 1}}
	gone := &models.Note{SyncFields: models.SyncFields{ServerID: "gone", ServerUpdatedAt: 1}}
	local := &models.Note{Title: "never synced"}
	for _, n := range []*models.Note{keep, gone, local} {
		require.NoError(t, r.CreateNote(ctx, n))
	}
	edited := &models.Note{SyncFields: models.SyncFields{ServerID: "edited", ServerUpdatedAt: 1}}
	require.NoError(t, r.CreateNote(ctx, edited))
	_, err := r.UpdateNote(ctx, edited.LocalID, models.NotePatch{Title: models.Ptr("x")}, OriginLocal)
	require.NoError(t, err)

	candidates, err := r.PruneCandidates(ctx, models.EntityNote, map[string]bool{"keep": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"gone"}, candidates)

	pruned, err := r.PruneMissing(ctx, models.EntityNote, map[string]bool{"keep": true})
	require.NoError(t, err)
	assert.Equal(t, []string{gone.LocalID}, pruned)

	n, err := r.Count(ctx, models.EntityNote, true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPruneMissing_skipsSystemFolders(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	sys := &models.Folder{SyncFields: models.SyncFields{ServerID: "all", ServerUpdatedAt: 1}, Name: models.SystemFolderName, IsSystem: true}
	require.NoError(t, r.CreateFolder(ctx, sys))

	pruned, err := r.PruneMissing(ctx, models.EntityFolder, map[string]bool{})
	require.NoError(t, err)
	assert.Empty(t, pruned)
}

func TestTouchServerVersion(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	n := &models.Note{Title: "a"}
	require.NoError(t, r.CreateNote(ctx, n))
	require.NoError(t, r.TouchServerVersion(ctx, models.EntityNote, n.LocalID, 42))
	require.NoError(t, r.TouchServerVersion(ctx, models.EntityNote, n.LocalID, 7))

	got, err := r.GetNote(ctx, n.LocalID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.ServerUpdatedAt)
	assert.Equal(t, models.SyncStatusPending, got.SyncStatus)

	ahead := got.LocalUpdatedAt + 1000
	require.NoError(t, r.TouchServerVersion(ctx, models.EntityNote, n.LocalID, ahead))
	got, err = r.GetNote(ctx, n.LocalID)
	require.NoError(t, err)
	assert.Equal(t, ahead, got.ServerUpdatedAt)
	assert.Equal(t, ahead+1, got.LocalUpdatedAt, "pending record stays ahead of the baseline")
	assert.True(t, got.HasLocalChanges())
}

func TestReplaceServerID(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	n := &models.Note{SyncFields: models.SyncFields{ServerID: "srv-old", ServerUpdatedAt: 500}, Title: "a"}
	require.NoError(t, r.CreateNote(ctx, n))

	assert.ErrorIs(t, r.ReplaceServerID(ctx, models.EntityNote, n.LocalID, "srv-other", "srv-new"), ErrNotFound)
	require.NoError(t, r.ReplaceServerID(ctx, models.EntityNote, n.LocalID, "srv-old", "srv-new"))

	got, err := r.GetNoteByServerID(ctx, "srv-new")
	require.NoError(t, err)
	assert.Equal(t, n.LocalID, got.LocalID)
	assert.Zero(t, got.ServerUpdatedAt)

	_, err = r.GetNoteByServerID(ctx, "srv-old")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFoldersAndActions(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	require.NoError(t, r.CreateFolder(ctx, &models.Folder{Name: "B", SortOrder: 2}))
	require.NoError(t, r.CreateFolder(ctx, &models.Folder{Name: "A", SortOrder: 1}))
	require.NoError(t, r.CreateFolder(ctx, &models.Folder{Name: models.SystemFolderName, IsSystem: true}))

	folders, err := r.ListFolders(ctx, false)
	require.NoError(t, err)
	require.Len(t, folders, 3)
	assert.Equal(t, models.SystemFolderName, folders[0].Name)
	assert.Equal(t, "A", folders[1].Name)

	require.NoError(t, r.CreateAction(ctx, &models.Action{NoteID: "n1", ActionType: models.ActionEmail, Attendees: []string{"a@x"}}))
	require.NoError(t, r.CreateAction(ctx, &models.Action{NoteID: "n2", ActionType: models.ActionCalendar}))

	actions, err := r.ListActions(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, []string{"a@x"}, actions[0].Attendees)

	all, err := r.ListActions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestWithTx_rollback(t *testing.T) {
	ctx := context.Background()
	d := testDB(t)
	r := NewRepository(d.DB)

	err := RunInTx(ctx, d.DB, func(tx *sql.Tx) error {
		if err := r.WithTx(tx).CreateNote(ctx, &models.Note{Title: "doomed"}); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	n, err := r.Count(ctx, models.EntityNote, true)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMeta(t *testing.T) {
	ctx := context.Background()
	r, clock := testRepo(t)

	hydrated, err := r.IsHydrated(ctx)
	require.NoError(t, err)
	assert.False(t, hydrated)

	require.NoError(t, r.SetHydrated(ctx, true))
	hydrated, err = r.IsHydrated(ctx)
	require.NoError(t, err)
	assert.True(t, hydrated)

	last, err := r.LastSyncAt(ctx)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	require.NoError(t, r.SetLastSyncAt(ctx, clock.Now()))
	last, err = r.LastSyncAt(ctx)
	require.NoError(t, err)
	assert.True(t, clock.Now().Equal(last))
}

func TestConflictLog(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	c := &models.ConflictLog{EntityType: models.EntityNote, LocalID: "n1", CopyLocalID: "n2", LocalTimestamp: 5, RemoteTimestamp: 6, Strategy: models.StrategyKeepServer}
	require.NoError(t, r.CreateConflictLog(ctx, c))
	assert.NotZero(t, c.ID)
	assert.NotZero(t, c.DetectedAt)

	logs, err := r.ListConflictLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, *c, *logs[0])
}
