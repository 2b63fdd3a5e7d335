package memremote

import (
	"github.com/google/uuid"

	"github.com/glidenotes/notesync/internal/models"
	"github.com/glidenotes/notesync/internal/remote"
)

// The methods below act on the server directly, as another device or a
// server-side job would. They bypass fault injection and call counting.

// SetupDefaults creates the "All Notes" system folder if it is missing and
// returns it.
func (s *Server) SetupDefaults() *remote.Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.folders {
		if f.IsSystem && f.Name == models.SystemFolderName {
			return folderOut(f)
		}
	}
	ts := s.stamp()
	f := &remote.Folder{
		ID:        uuid.NewString(),
		Name:      models.SystemFolderName,
		Icon:      "folder",
		IsSystem:  true,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	s.folders[f.ID] = f
	return folderOut(f)
}

// PutNote stores a note as if created elsewhere and returns it.
func (s *Server) PutNote(p models.NotePatch) *remote.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.stamp()
	n := &remote.Note{ID: uuid.NewString(), CreatedAt: ts, UpdatedAt: ts}
	remote.ApplyNotePatch(n, p)
	s.notes[n.ID] = n
	return s.noteOut(n)
}

// PutFolder stores a folder as if created elsewhere and returns it.
func (s *Server) PutFolder(p models.FolderPatch) *remote.Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.stamp()
	f := &remote.Folder{ID: uuid.NewString(), CreatedAt: ts, UpdatedAt: ts}
	remote.ApplyFolderPatch(f, p)
	s.folders[f.ID] = f
	return folderOut(f)
}

// PutAction stores an action under noteID as if created elsewhere.
func (s *Server) PutAction(noteID string, p models.ActionPatch) *remote.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.stamp()
	a := &remote.Action{
		ID:         uuid.NewString(),
		NoteID:     noteID,
		ActionType: models.ActionNextStep,
		Status:     models.ActionStatusPending,
		Priority:   models.ActionPriorityMedium,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
	remote.ApplyActionPatch(a, p)
	s.actions[a.ID] = a
	return actionOut(a)
}

// EditNote applies p to a stored note and bumps its version. It reports
// whether the note exists.
func (s *Server) EditNote(id string, p models.NotePatch) (*remote.Note, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[id]
	if !ok {
		return nil, false
	}
	remote.ApplyNotePatch(n, p)
	n.UpdatedAt = s.stamp()
	return s.noteOut(n), true
}

// EditFolder applies p to a stored folder and bumps its version.
func (s *Server) EditFolder(id string, p models.FolderPatch) (*remote.Folder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[id]
	if !ok {
		return nil, false
	}
	remote.ApplyFolderPatch(f, p)
	f.UpdatedAt = s.stamp()
	return folderOut(f), true
}

// Remove deletes a record of any type without cascading, as an admin purge.
func (s *Server) Remove(t models.EntityType, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ok bool
	switch t {
	case models.EntityNote:
		_, ok = s.notes[id]
		delete(s.notes, id)
	case models.EntityFolder:
		_, ok = s.folders[id]
		delete(s.folders, id)
	case models.EntityAction:
		_, ok = s.actions[id]
		delete(s.actions, id)
	}
	return ok
}

// Count returns how many records of type t the server holds.
func (s *Server) Count(t models.EntityType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch t {
	case models.EntityNote:
		return len(s.notes)
	case models.EntityFolder:
		return len(s.folders)
	case models.EntityAction:
		return len(s.actions)
	}
	return 0
}
