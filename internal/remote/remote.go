// Package remote defines the authoritative note service the sync engine
// talks to. Implementations return *errors.AppError values with codes
// NOT_FOUND, VALIDATION_ERROR, NETWORK_ERROR or SERVER_ERROR.
package remote

import (
	"context"
	"unicode/utf8"

	apperrors "github.com/glidenotes/notesync/internal/errors"
	"github.com/glidenotes/notesync/internal/models"
)

const (
	// DefaultPerPage is the page size used when none is given.
	DefaultPerPage = 20
	// MaxPerPage is the largest page a service returns.
	MaxPerPage = 100

	MaxTitleLen      = 500
	MaxFolderNameLen = 100
)

// Note is the server representation of a note. FolderID is a server id.
// UpdatedAt is the server-authoritative version timestamp in ms.
type Note struct {
	ID         string            `json:"id" dynamodbav:"id"`
	FolderID   string            `json:"folder_id,omitempty" dynamodbav:"folder_id,omitempty"`
	Title      string            `json:"title" dynamodbav:"title"`
	Transcript string            `json:"transcript" dynamodbav:"transcript"`
	Summary    string            `json:"summary,omitempty" dynamodbav:"summary,omitempty"`
	Duration   int               `json:"duration" dynamodbav:"duration"`
	AudioURL   string            `json:"audio_url,omitempty" dynamodbav:"audio_url,omitempty"`
	Tags       []string          `json:"tags" dynamodbav:"tags,omitempty"`
	IsPinned   bool              `json:"is_pinned" dynamodbav:"is_pinned"`
	IsArchived bool              `json:"is_archived" dynamodbav:"is_archived"`
	AIMetadata map[string]string `json:"ai_metadata,omitempty" dynamodbav:"ai_metadata,omitempty"`
	Actions    []*Action         `json:"actions,omitempty" dynamodbav:"-"`
	CreatedAt  int64             `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt  int64             `json:"updated_at" dynamodbav:"updated_at"`
}

// Folder is the server representation of a folder. ListFolders returns
// root folders with their descendants nested under Children.
type Folder struct {
	ID        string    `json:"id" dynamodbav:"id"`
	Name      string    `json:"name" dynamodbav:"name"`
	Icon      string    `json:"icon,omitempty" dynamodbav:"icon,omitempty"`
	Color     string    `json:"color,omitempty" dynamodbav:"color,omitempty"`
	ParentID  string    `json:"parent_id,omitempty" dynamodbav:"parent_id,omitempty"`
	SortOrder int       `json:"sort_order" dynamodbav:"sort_order"`
	IsSystem  bool      `json:"is_system" dynamodbav:"is_system"`
	Children  []*Folder `json:"children,omitempty" dynamodbav:"-"`
	CreatedAt int64     `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt int64     `json:"updated_at" dynamodbav:"updated_at"`
}

// Action is the server representation of a follow-up. NoteID is a server id.
type Action struct {
	ID            string                `json:"id" dynamodbav:"id"`
	NoteID        string                `json:"note_id" dynamodbav:"note_id"`
	ActionType    models.ActionType     `json:"action_type" dynamodbav:"action_type"`
	Status        models.ActionStatus   `json:"status" dynamodbav:"status"`
	Priority      models.ActionPriority `json:"priority" dynamodbav:"priority"`
	Title         string                `json:"title" dynamodbav:"title"`
	ScheduledDate int64                 `json:"scheduled_date,omitempty" dynamodbav:"scheduled_date,omitempty"`
	Location      string                `json:"location,omitempty" dynamodbav:"location,omitempty"`
	Attendees     []string              `json:"attendees,omitempty" dynamodbav:"attendees,omitempty"`
	EmailTo       string                `json:"email_to,omitempty" dynamodbav:"email_to,omitempty"`
	EmailSubject  string                `json:"email_subject,omitempty" dynamodbav:"email_subject,omitempty"`
	EmailBody     string                `json:"email_body,omitempty" dynamodbav:"email_body,omitempty"`
	Details       map[string]string     `json:"details,omitempty" dynamodbav:"details,omitempty"`
	CreatedAt     int64                 `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt     int64                 `json:"updated_at" dynamodbav:"updated_at"`
}

// NotePage is one page of ListNotes.
type NotePage struct {
	Items   []*Note `json:"items"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	PerPage int     `json:"per_page"`
	Pages   int     `json:"pages"`
}

// Service is the remote note service. Patches carry server ids in their
// reference fields (FolderID, ParentID). Only supplied fields change on update.
type Service interface {
	CreateNote(ctx context.Context, in models.NotePatch) (*Note, error)
	UpdateNote(ctx context.Context, id string, in models.NotePatch) (*Note, error)
	DeleteNote(ctx context.Context, id string) error
	GetNote(ctx context.Context, id string) (*Note, error)
	// ListNotes returns live notes, pinned first then newest, with their
	// actions nested. page is 1-based.
	ListNotes(ctx context.Context, page, perPage int) (*NotePage, error)

	CreateFolder(ctx context.Context, in models.FolderPatch) (*Folder, error)
	UpdateFolder(ctx context.Context, id string, in models.FolderPatch) (*Folder, error)
	DeleteFolder(ctx context.Context, id string) error
	ListFolders(ctx context.Context) ([]*Folder, error)

	CreateAction(ctx context.Context, noteID string, in models.ActionPatch) (*Action, error)
	UpdateAction(ctx context.Context, id string, in models.ActionPatch) (*Action, error)
	DeleteAction(ctx context.Context, id string) error
}

// NormalizePage clamps paging arguments.
func NormalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

// Pages returns the page count for total items.
func Pages(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}

// NotFound builds a NOT_FOUND error for a missing record.
func NotFound(kind models.EntityType, id string) error {
	return apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", kind, id)
}

// Invalid builds a VALIDATION_ERROR.
func Invalid(format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.ErrValidation, format, args...)
}

// IsNotFound reports whether err is a remote NOT_FOUND.
func IsNotFound(err error) bool {
	return apperrors.Is(err, apperrors.ErrNotFound)
}

// Flatten walks a folder tree parents-first without recursion.
func Flatten(roots []*Folder) []*Folder {
	var out []*Folder
	stack := make([]*Folder, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, roots[i])
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, f)
		for i := len(f.Children) - 1; i >= 0; i-- {
			stack = append(stack, f.Children[i])
		}
	}
	return out
}

// BuildTree nests a flat folder list under parents. Folders whose parent is
// missing become roots. Sibling order is preserved.
func BuildTree(flat []*Folder) []*Folder {
	byID := make(map[string]*Folder, len(flat))
	for _, f := range flat {
		c := *f
		c.Children = nil
		byID[f.ID] = &c
	}
	var roots []*Folder
	for _, f := range flat {
		node := byID[f.ID]
		if parent, ok := byID[f.ParentID]; ok && f.ParentID != f.ID {
			parent.Children = append(parent.Children, node)
			continue
		}
		roots = append(roots, node)
	}
	return roots
}

// CheckNote validates the fields of a note write.
func CheckNote(in models.NotePatch) error {
	if in.Title != nil && utf8.RuneCountInString(*in.Title) > MaxTitleLen {
		return Invalid("title longer than %d characters", MaxTitleLen)
	}
	if in.Duration != nil && *in.Duration < 0 {
		return Invalid("duration must not be negative")
	}
	return nil
}

// CheckFolder validates the fields of a folder write. create requires a name.
func CheckFolder(in models.FolderPatch, create bool) error {
	if (create && in.Name == nil) || (in.Name != nil && *in.Name == "") {
		return Invalid("folder name is required")
	}
	if in.Name != nil && utf8.RuneCountInString(*in.Name) > MaxFolderNameLen {
		return Invalid("folder name longer than %d characters", MaxFolderNameLen)
	}
	return nil
}

// CheckAction validates the fields of an action write. create requires a title.
func CheckAction(in models.ActionPatch, create bool) error {
	if (create && in.Title == nil) || (in.Title != nil && *in.Title == "") {
		return Invalid("action title is required")
	}
	if in.Title != nil && utf8.RuneCountInString(*in.Title) > MaxTitleLen {
		return Invalid("title longer than %d characters", MaxTitleLen)
	}
	return nil
}
