package memremote

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/glidenotes/notesync/internal/errors"
	"github.com/glidenotes/notesync/internal/models"
	"github.com/glidenotes/notesync/internal/remote"
)

func fixedClock() func() time.Time {
	t := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func TestNoteLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New(WithClock(fixedClock()))

	created, err := s.CreateNote(ctx, models.NotePatch{Title: models.Ptr("Standup"), Tags: &[]string{"work"}})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	updated, err := s.UpdateNote(ctx, created.ID, models.NotePatch{Transcript: models.Ptr("notes")})
	require.NoError(t, err)
	assert.Equal(t, "Standup", updated.Title, "unsupplied fields are kept")
	assert.Equal(t, "notes", updated.Transcript)
	assert.Greater(t, updated.UpdatedAt, created.UpdatedAt, "timestamps strictly increase under a frozen clock")

	got, err := s.GetNote(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"work"}, got.Tags)

	require.NoError(t, s.DeleteNote(ctx, created.ID))
	_, err = s.GetNote(ctx, created.ID)
	assert.True(t, remote.IsNotFound(err))
	assert.True(t, remote.IsNotFound(s.DeleteNote(ctx, created.ID)))

	_, err = s.UpdateNote(ctx, created.ID, models.NotePatch{})
	assert.True(t, remote.IsNotFound(err))
}

func TestNoteValidation(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.CreateNote(ctx, models.NotePatch{Title: models.Ptr(strings.Repeat("x", remote.MaxTitleLen+1))})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = s.CreateNote(ctx, models.NotePatch{FolderID: models.Ptr("missing")})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestListNotes_paging(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 5; i++ {
		s.PutNote(models.NotePatch{Title: models.Ptr("n")})
	}
	pinned := s.PutNote(models.NotePatch{Title: models.Ptr("pinned"), IsPinned: models.Ptr(true)})

	page, err := s.ListNotes(ctx, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)
	assert.Equal(t, 2, page.Pages)
	require.Len(t, page.Items, 4)
	assert.Equal(t, pinned.ID, page.Items[0].ID)

	page, err = s.ListNotes(ctx, 2, 4)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	page, err = s.ListNotes(ctx, 9, 4)
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	page, err = s.ListNotes(ctx, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, remote.MaxPerPage, page.PerPage)
}

func TestListNotes_nestsActions(t *testing.T) {
	ctx := context.Background()
	s := New()
	n := s.PutNote(models.NotePatch{Title: models.Ptr("n")})

	a, err := s.CreateAction(ctx, n.ID, models.ActionPatch{Title: models.Ptr("Email Dana")})
	require.NoError(t, err)
	assert.Equal(t, models.ActionStatusPending, a.Status)

	page, err := s.ListNotes(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items[0].Actions, 1)
	assert.Equal(t, a.ID, page.Items[0].Actions[0].ID)

	require.NoError(t, s.DeleteNote(ctx, n.ID))
	assert.Zero(t, s.Count(models.EntityAction))
}

func TestCreateAction_validation(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.CreateAction(ctx, "nope", models.ActionPatch{Title: models.Ptr("x")})
	assert.True(t, remote.IsNotFound(err))

	n := s.PutNote(models.NotePatch{})
	_, err = s.CreateAction(ctx, n.ID, models.ActionPatch{})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestFolders(t *testing.T) {
	ctx := context.Background()
	s := New()
	sys := s.SetupDefaults()
	assert.Equal(t, sys.ID, s.SetupDefaults().ID, "idempotent")

	work, err := s.CreateFolder(ctx, models.FolderPatch{Name: models.Ptr("Work"), SortOrder: models.Ptr(1)})
	require.NoError(t, err)
	child, err := s.CreateFolder(ctx, models.FolderPatch{Name: models.Ptr("1:1s"), ParentID: models.Ptr(work.ID)})
	require.NoError(t, err)

	tree, err := s.ListFolders(ctx)
	require.NoError(t, err)
	require.Len(t, tree, 2)
	assert.Equal(t, sys.ID, tree[0].ID)
	require.Len(t, tree[1].Children, 1)
	assert.Equal(t, child.ID, tree[1].Children[0].ID)

	_, err = s.UpdateFolder(ctx, work.ID, models.FolderPatch{ParentID: models.Ptr(child.ID)})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation), "cycle rejected")

	_, err = s.CreateFolder(ctx, models.FolderPatch{})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	assert.True(t, apperrors.Is(s.DeleteFolder(ctx, sys.ID), apperrors.ErrValidation))

	n, err := s.CreateNote(ctx, models.NotePatch{FolderID: models.Ptr(work.ID)})
	require.NoError(t, err)
	require.NoError(t, s.DeleteFolder(ctx, work.ID))

	got, err := s.GetNote(ctx, n.ID)
	require.NoError(t, err)
	assert.Empty(t, got.FolderID)
	assert.Greater(t, got.UpdatedAt, n.UpdatedAt)

	tree, err = s.ListFolders(ctx)
	require.NoError(t, err)
	assert.Len(t, tree, 2, "orphaned child moves to the root")
}

func TestFaultInjection(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := apperrors.New(apperrors.ErrServer, "502")

	s.FailNext(CreateNote, boom, 2)
	_, err := s.CreateNote(ctx, models.NotePatch{})
	assert.Equal(t, boom, err)
	_, err = s.CreateNote(ctx, models.NotePatch{})
	assert.Equal(t, boom, err)
	_, err = s.CreateNote(ctx, models.NotePatch{})
	assert.NoError(t, err)
	assert.Equal(t, 3, s.Calls(CreateNote))

	s.SetOffline(true)
	_, err = s.ListFolders(ctx)
	assert.True(t, apperrors.Is(err, apperrors.ErrNetwork))
	s.SetOffline(false)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.ListFolders(cancelled)
	assert.True(t, apperrors.Is(err, apperrors.ErrNetwork))
	assert.Equal(t, 5, s.TotalCalls())
}

func TestAdminHelpers(t *testing.T) {
	s := New()
	n := s.PutNote(models.NotePatch{Title: models.Ptr("a")})
	edited, ok := s.EditNote(n.ID, models.NotePatch{Title: models.Ptr("b")})
	require.True(t, ok)
	assert.Equal(t, "b", edited.Title)
	assert.Greater(t, edited.UpdatedAt, n.UpdatedAt)

	_, ok = s.EditNote("missing", models.NotePatch{})
	assert.False(t, ok)

	assert.True(t, s.Remove(models.EntityNote, n.ID))
	assert.False(t, s.Remove(models.EntityNote, n.ID))
	assert.Zero(t, s.TotalCalls(), "admin helpers are not counted")
}
