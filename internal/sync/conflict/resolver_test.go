package conflict

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glidenotes/notesync/internal/db"
	"github.com/glidenotes/notesync/internal/logging"
	"github.com/glidenotes/notesync/internal/models"
	"github.com/glidenotes/notesync/internal/uuid"
)

var baseTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func testResolver(t *testing.T) (*Resolver, *db.Repository) {
	t.Helper()
	d, err := db.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	now := baseTime
	repo := db.NewRepository(d.DB,
		db.WithClock(func() time.Time { now = now.Add(time.Second); return now }),
		db.WithIDSource(uuid.Sequence("local")))
	return NewResolver(repo, WithLogger(logging.Discard())), repo
}

// syncedNoteWithLocalEdit returns a note synced at server version 1000 and
// then edited locally.
func syncedNoteWithLocalEdit(t *testing.T, repo *db.Repository, title, transcript string) *models.Note {
	t.Helper()
	ctx := context.Background()
	n := &models.Note{
		SyncFields: models.SyncFields{ServerID: "srv-1", ServerUpdatedAt: 1000},
		Title:      "Original",
		Transcript: transcript,
		Summary:    "old summary",
	}
	require.NoError(t, repo.CreateNote(ctx, n))
	edited, err := repo.UpdateNote(ctx, n.LocalID, models.NotePatch{Title: models.Ptr(title)}, db.OriginLocal)
	require.NoError(t, err)
	require.True(t, HasConflict(&edited.SyncFields, 2000))
	return edited
}

func remoteNote(transcript string) *models.Note {
	return &models.Note{
		SyncFields: models.SyncFields{ServerID: "srv-1", ServerUpdatedAt: 2000},
		Title:      "Original",
		Transcript: transcript,
		Summary:    "fresh summary",
		AudioURL:   "https://cdn.example/a.m4a",
		Duration:   93,
		AIMetadata: map[string]string{"sentiment": "positive"},
	}
}

func TestResolve_keepServerSignificantCreatesCopy(t *testing.T) {
	ctx := context.Background()
	r, repo := testResolver(t)

	local := syncedNoteWithLocalEdit(t, repo, "Offline title", "the original body of the meeting")
	remote := remoteNote(strings.Repeat("an entirely new transcript produced on the server. ", 3))

	res, err := r.Resolve(ctx, local, remote, models.StrategyKeepServer)
	require.NoError(t, err)
	assert.True(t, res.Significant)
	assert.True(t, res.ServerApplied)
	require.NotNil(t, res.Copy)

	orig, err := repo.GetNote(ctx, local.LocalID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, orig.SyncStatus)
	assert.Equal(t, "Original", orig.Title)
	assert.Equal(t, remote.Transcript, orig.Transcript)
	assert.Equal(t, int64(2000), orig.ServerUpdatedAt)

	cp, err := repo.GetNote(ctx, res.CopyLocalID())
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, cp.SyncStatus)
	assert.Empty(t, cp.ServerID)
	assert.Equal(t, DefaultCopyPrefix+"Offline title", cp.Title)
	assert.Equal(t, "the original body of the meeting", cp.Transcript)

	logs, err := repo.ListConflictLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, local.LocalID, logs[0].LocalID)
	assert.Equal(t, cp.LocalID, logs[0].CopyLocalID)
	assert.Equal(t, local.LocalUpdatedAt, logs[0].LocalTimestamp)
	assert.Equal(t, int64(2000), logs[0].RemoteTimestamp)
	assert.Equal(t, models.StrategyKeepServer, logs[0].Strategy)
}

func TestResolve_keepServerInsignificantOverwrites(t *testing.T) {
	ctx := context.Background()
	r, repo := testResolver(t)

	body := "the original body of the meeting"
	local := syncedNoteWithLocalEdit(t, repo, "Originel", body)

	res, err := r.Resolve(ctx, local, remoteNote(body), models.StrategyKeepServer)
	require.NoError(t, err)
	assert.False(t, res.Significant)
	assert.Nil(t, res.Copy)

	n, err := repo.Count(ctx, models.EntityNote, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.GetNote(ctx, local.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "Original", got.Title)
	assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)
}

func TestResolve_createCopyAlwaysCopies(t *testing.T) {
	ctx := context.Background()
	r, repo := testResolver(t)

	body := "same body"
	local := syncedNoteWithLocalEdit(t, repo, "Originel", body)

	res, err := r.Resolve(ctx, local, remoteNote(body), models.StrategyCreateCopy)
	require.NoError(t, err)
	assert.False(t, res.Significant)
	require.NotNil(t, res.Copy)

	n, err := repo.Count(ctx, models.EntityNote, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestResolve_keepLocal(t *testing.T) {
	ctx := context.Background()
	r, repo := testResolver(t)

	local := syncedNoteWithLocalEdit(t, repo, "Mine", "body")

	res, err := r.Resolve(ctx, local, remoteNote("theirs entirely different"), models.StrategyKeepLocal)
	require.NoError(t, err)
	assert.False(t, res.ServerApplied)
	assert.Nil(t, res.Copy)

	got, err := repo.GetNote(ctx, local.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "Mine", got.Title)
	assert.Equal(t, "body", got.Transcript)
	assert.Equal(t, models.SyncStatusPending, got.SyncStatus)
	assert.Equal(t, int64(2000), got.ServerUpdatedAt)
	assert.True(t, got.HasLocalChanges())
}

func TestResolve_mergeKeepsContent(t *testing.T) {
	ctx := context.Background()
	r, repo := testResolver(t)

	local := syncedNoteWithLocalEdit(t, repo, "Mine", "my body")
	remote := remoteNote("server body")

	_, err := r.Resolve(ctx, local, remote, models.StrategyMerge)
	require.NoError(t, err)

	got, err := repo.GetNote(ctx, local.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "Mine", got.Title)
	assert.Equal(t, "my body", got.Transcript)
	assert.Equal(t, "fresh summary", got.Summary)
	assert.Equal(t, remote.AudioURL, got.AudioURL)
	assert.Equal(t, 93, got.Duration)
	assert.Equal(t, "positive", got.AIMetadata["sentiment"])
	assert.Equal(t, models.SyncStatusPending, got.SyncStatus)
	assert.True(t, got.HasLocalChanges())
}

func TestResolve_tombstoneNeverCopied(t *testing.T) {
	ctx := context.Background()
	r, repo := testResolver(t)

	local := syncedNoteWithLocalEdit(t, repo, "Mine", "body")
	_, err := repo.SoftDeleteNote(ctx, local.LocalID)
	require.NoError(t, err)
	local, err = repo.GetNote(ctx, local.LocalID)
	require.NoError(t, err)

	res, err := r.Resolve(ctx, local, remoteNote("totally new server transcript text"), models.StrategyCreateCopy)
	require.NoError(t, err)
	assert.Nil(t, res.Copy)
	assert.True(t, res.ServerApplied)
}

func TestResolve_folderAndAction(t *testing.T) {
	ctx := context.Background()
	r, repo := testResolver(t)

	f := &models.Folder{SyncFields: models.SyncFields{ServerID: "f-srv", ServerUpdatedAt: 1000}, Name: "Work"}
	require.NoError(t, repo.CreateFolder(ctx, f))
	f, err := repo.UpdateFolder(ctx, f.LocalID, models.FolderPatch{Name: models.Ptr("Work stuff")}, db.OriginLocal)
	require.NoError(t, err)

	res, err := r.Resolve(ctx, f, &models.Folder{SyncFields: models.SyncFields{ServerID: "f-srv", ServerUpdatedAt: 2000}, Name: "Job"}, models.StrategyKeepServer)
	require.NoError(t, err)
	assert.Nil(t, res.Copy, "folder conflicts are never copied")

	a := &models.Action{SyncFields: models.SyncFields{ServerID: "a-srv", ServerUpdatedAt: 1000}, Title: "Call Bob"}
	require.NoError(t, repo.CreateAction(ctx, a))
	res, err = r.Resolve(ctx, a, &models.Action{SyncFields: models.SyncFields{ServerID: "a-srv", ServerUpdatedAt: 2000}, Title: "Call Bob"}, models.StrategyKeepServer)
	require.NoError(t, err)
	require.NotNil(t, res.Copy)
	assert.Equal(t, DefaultCopyPrefix+"Call Bob", res.Copy.(*models.Action).Title)
}

func TestResolve_invalid(t *testing.T) {
	ctx := context.Background()
	r, _ := testResolver(t)

	_, err := r.Resolve(ctx, nil, &models.Note{}, models.StrategyKeepServer)
	assert.Equal(t, ErrInvalidConflict, err)

	_, err = r.Resolve(ctx, &models.Note{}, &models.Folder{}, models.StrategyKeepServer)
	assert.Equal(t, ErrTypeMismatch, err)

	_, err = r.Resolve(ctx, &models.Note{}, &models.Note{SyncFields: models.SyncFields{ServerID: "x"}}, "coin_flip")
	assert.Error(t, err)

	local := &models.Note{SyncFields: models.SyncFields{ServerID: "a"}}
	_, err = r.Resolve(ctx, local, &models.Note{SyncFields: models.SyncFields{ServerID: "b"}}, models.StrategyKeepServer)
	assert.Equal(t, ErrServerIDMismatch, err)
}

func TestMetadataPatch(t *testing.T) {
	p := MetadataPatch(remoteNote("x"))
	assert.Nil(t, p.Title)
	assert.Nil(t, p.Transcript)
	assert.Nil(t, p.Tags)
	assert.Nil(t, p.FolderID)
	assert.Equal(t, "fresh summary", *p.Summary)
	assert.Equal(t, 93, *p.Duration)
}
