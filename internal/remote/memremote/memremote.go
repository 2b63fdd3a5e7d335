// Package memremote is an in-process remote.Service. It keeps authoritative
// timestamps, validates input like the hosted service and can inject
// failures per method. It backs tests and the CLI's offline mode.
package memremote

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/glidenotes/notesync/internal/errors"
	"github.com/glidenotes/notesync/internal/models"
	"github.com/glidenotes/notesync/internal/remote"
)

// Method names a Service method for fault injection and call counting.
type Method string

const (
	CreateNote   Method = "CreateNote"
	UpdateNote   Method = "UpdateNote"
	DeleteNote   Method = "DeleteNote"
	GetNote      Method = "GetNote"
	ListNotes    Method = "ListNotes"
	CreateFolder Method = "CreateFolder"
	UpdateFolder Method = "UpdateFolder"
	DeleteFolder Method = "DeleteFolder"
	ListFolders  Method = "ListFolders"
	CreateAction Method = "CreateAction"
	UpdateAction Method = "UpdateAction"
	DeleteAction Method = "DeleteAction"
)

type fault struct {
	err   error
	times int
}

// Server is an in-memory remote.Service.
type Server struct {
	mu      sync.Mutex
	now     func() time.Time
	last    int64
	notes   map[string]*remote.Note
	folders map[string]*remote.Folder
	actions map[string]*remote.Action
	faults  map[Method]*fault
	calls   map[Method]int
	offline bool
}

var _ remote.Service = (*Server)(nil)

// Option configures a Server.
type Option func(*Server)

// WithClock overrides the time source used for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates an empty Server.
func New(opts ...Option) *Server {
	s := &Server{
		now:     time.Now,
		notes:   make(map[string]*remote.Note),
		folders: make(map[string]*remote.Folder),
		actions: make(map[string]*remote.Action),
		faults:  make(map[Method]*fault),
		calls:   make(map[Method]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailNext makes the next times calls of m return err.
func (s *Server) FailNext(m Method, err error, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[m] = &fault{err: err, times: times}
}

// SetOffline makes every call fail with a network error until cleared.
func (s *Server) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// Calls returns how many times m was invoked, failed calls included.
func (s *Server) Calls(m Method) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[m]
}

// TotalCalls returns the number of invocations across all methods.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// enter records a call and returns an injected error, if any. Callers hold mu.
func (s *Server) enter(ctx context.Context, m Method) error {
	s.calls[m]++
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.ErrNetwork, "request cancelled", err)
	}
	if s.offline {
		return apperrors.New(apperrors.ErrNetwork, "remote unreachable")
	}
	if f := s.faults[m]; f != nil && f.times > 0 {
		f.times--
		return f.err
	}
	return nil
}

// stamp returns a strictly increasing server timestamp.
func (s *Server) stamp() int64 {
	ts := s.now().UnixMilli()
	if ts <= s.last {
		ts = s.last + 1
	}
	s.last = ts
	return ts
}

// CreateNote implements remote.Service.
func (s *Server) CreateNote(ctx context.Context, in models.NotePatch) (*remote.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, CreateNote); err != nil {
		return nil, err
	}
	if err := s.checkNote(in); err != nil {
		return nil, err
	}
	ts := s.stamp()
	n := &remote.Note{ID: uuid.NewString(), CreatedAt: ts, UpdatedAt: ts}
	remote.ApplyNotePatch(n, in)
	s.notes[n.ID] = n
	return s.noteOut(n), nil
}

// UpdateNote implements remote.Service.
func (s *Server) UpdateNote(ctx context.Context, id string, in models.NotePatch) (*remote.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, UpdateNote); err != nil {
		return nil, err
	}
	n, ok := s.notes[id]
	if !ok {
		return nil, remote.NotFound(models.EntityNote, id)
	}
	if err := s.checkNote(in); err != nil {
		return nil, err
	}
	remote.ApplyNotePatch(n, in)
	n.UpdatedAt = s.stamp()
	return s.noteOut(n), nil
}

func (s *Server) checkNote(in models.NotePatch) error {
	if err := remote.CheckNote(in); err != nil {
		return err
	}
	if in.FolderID != nil && *in.FolderID != "" {
		if _, ok := s.folders[*in.FolderID]; !ok {
			return remote.Invalid("folder %s does not exist", *in.FolderID)
		}
	}
	return nil
}

// DeleteNote implements remote.Service. The note's actions go with it.
func (s *Server) DeleteNote(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, DeleteNote); err != nil {
		return err
	}
	if _, ok := s.notes[id]; !ok {
		return remote.NotFound(models.EntityNote, id)
	}
	delete(s.notes, id)
	for aid, a := range s.actions {
		if a.NoteID == id {
			delete(s.actions, aid)
		}
	}
	return nil
}

// GetNote implements remote.Service.
func (s *Server) GetNote(ctx context.Context, id string) (*remote.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, GetNote); err != nil {
		return nil, err
	}
	n, ok := s.notes[id]
	if !ok {
		return nil, remote.NotFound(models.EntityNote, id)
	}
	return s.noteOut(n), nil
}

// ListNotes implements remote.Service.
func (s *Server) ListNotes(ctx context.Context, page, perPage int) (*remote.NotePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, ListNotes); err != nil {
		return nil, err
	}
	page, perPage = remote.NormalizePage(page, perPage)

	all := make([]*remote.Note, 0, len(s.notes))
	for _, n := range s.notes {
		all = append(all, n)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.IsPinned != b.IsPinned {
			return a.IsPinned
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID < b.ID
	})

	out := &remote.NotePage{Total: len(all), Page: page, PerPage: perPage, Pages: remote.Pages(len(all), perPage)}
	start := (page - 1) * perPage
	if start < len(all) {
		end := min(start+perPage, len(all))
		for _, n := range all[start:end] {
			out.Items = append(out.Items, s.noteOut(n))
		}
	}
	return out, nil
}

// noteOut copies a stored note and nests its actions.
func (s *Server) noteOut(n *remote.Note) *remote.Note {
	c := *n
	c.Tags = append([]string(nil), n.Tags...)
	c.AIMetadata = remote.CopyMap(n.AIMetadata)
	c.Actions = nil
	for _, a := range s.actions {
		if a.NoteID == n.ID {
			c.Actions = append(c.Actions, actionOut(a))
		}
	}
	sort.Slice(c.Actions, func(i, j int) bool {
		if c.Actions[i].CreatedAt != c.Actions[j].CreatedAt {
			return c.Actions[i].CreatedAt < c.Actions[j].CreatedAt
		}
		return c.Actions[i].ID < c.Actions[j].ID
	})
	return &c
}

// CreateFolder implements remote.Service.
func (s *Server) CreateFolder(ctx context.Context, in models.FolderPatch) (*remote.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, CreateFolder); err != nil {
		return nil, err
	}
	if err := s.checkFolder("", in, true); err != nil {
		return nil, err
	}
	ts := s.stamp()
	f := &remote.Folder{ID: uuid.NewString(), Icon: "folder", CreatedAt: ts, UpdatedAt: ts}
	remote.ApplyFolderPatch(f, in)
	s.folders[f.ID] = f
	return folderOut(f), nil
}

// UpdateFolder implements remote.Service.
func (s *Server) UpdateFolder(ctx context.Context, id string, in models.FolderPatch) (*remote.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, UpdateFolder); err != nil {
		return nil, err
	}
	f, ok := s.folders[id]
	if !ok {
		return nil, remote.NotFound(models.EntityFolder, id)
	}
	if err := s.checkFolder(id, in, false); err != nil {
		return nil, err
	}
	remote.ApplyFolderPatch(f, in)
	f.UpdatedAt = s.stamp()
	return folderOut(f), nil
}

func (s *Server) checkFolder(id string, in models.FolderPatch, create bool) error {
	if err := remote.CheckFolder(in, create); err != nil {
		return err
	}
	if in.ParentID == nil || *in.ParentID == "" {
		return nil
	}
	// Walk up from the new parent; reaching id would make a cycle.
	for cur := *in.ParentID; cur != ""; {
		if cur == id {
			return remote.Invalid("folder cannot be its own ancestor")
		}
		p, ok := s.folders[cur]
		if !ok {
			return remote.Invalid("parent folder %s does not exist", cur)
		}
		cur = p.ParentID
	}
	return nil
}

// DeleteFolder implements remote.Service. System folders cannot be deleted.
// Notes in the folder are unassigned and child folders move to the root.
func (s *Server) DeleteFolder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, DeleteFolder); err != nil {
		return err
	}
	f, ok := s.folders[id]
	if !ok {
		return remote.NotFound(models.EntityFolder, id)
	}
	if f.IsSystem {
		return remote.Invalid("cannot delete system folders")
	}
	delete(s.folders, id)
	for _, n := range s.notes {
		if n.FolderID == id {
			n.FolderID = ""
			n.UpdatedAt = s.stamp()
		}
	}
	for _, c := range s.folders {
		if c.ParentID == id {
			c.ParentID = ""
			c.UpdatedAt = s.stamp()
		}
	}
	return nil
}

// ListFolders implements remote.Service.
func (s *Server) ListFolders(ctx context.Context) ([]*remote.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, ListFolders); err != nil {
		return nil, err
	}
	flat := make([]*remote.Folder, 0, len(s.folders))
	for _, f := range s.folders {
		flat = append(flat, folderOut(f))
	}
	sort.Slice(flat, func(i, j int) bool {
		if flat[i].SortOrder != flat[j].SortOrder {
			return flat[i].SortOrder < flat[j].SortOrder
		}
		if flat[i].Name != flat[j].Name {
			return flat[i].Name < flat[j].Name
		}
		return flat[i].ID < flat[j].ID
	})
	return remote.BuildTree(flat), nil
}

// CreateAction implements remote.Service.
func (s *Server) CreateAction(ctx context.Context, noteID string, in models.ActionPatch) (*remote.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, CreateAction); err != nil {
		return nil, err
	}
	if _, ok := s.notes[noteID]; !ok {
		return nil, remote.NotFound(models.EntityNote, noteID)
	}
	if err := remote.CheckAction(in, true); err != nil {
		return nil, err
	}
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
	remote.ApplyActionPatch(a, in)
	s.actions[a.ID] = a
	return actionOut(a), nil
}

// UpdateAction implements remote.Service.
func (s *Server) UpdateAction(ctx context.Context, id string, in models.ActionPatch) (*remote.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, UpdateAction); err != nil {
		return nil, err
	}
	a, ok := s.actions[id]
	if !ok {
		return nil, remote.NotFound(models.EntityAction, id)
	}
	if err := remote.CheckAction(in, false); err != nil {
		return nil, err
	}
	remote.ApplyActionPatch(a, in)
	a.UpdatedAt = s.stamp()
	return actionOut(a), nil
}

// DeleteAction implements remote.Service.
func (s *Server) DeleteAction(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, DeleteAction); err != nil {
		return err
	}
	if _, ok := s.actions[id]; !ok {
		return remote.NotFound(models.EntityAction, id)
	}
	delete(s.actions, id)
	return nil
}

func folderOut(f *remote.Folder) *remote.Folder {
	c := *f
	c.Children = nil
	return &c
}

func actionOut(a *remote.Action) *remote.Action {
	c := *a
	c.Attendees = append([]string(nil), a.Attendees...)
	c.Details = remote.CopyMap(a.Details)
	return &c
}
