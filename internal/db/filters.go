package db

import (
	"strings"

	"github.com/glidenotes/notesync/internal/models"
)

// Filter represents a single note filter condition.
type Filter interface {
	// SQL returns the SQL fragment for this filter
	SQL() string

	// Args returns the arguments for this filter
	Args() []interface{}

	// Valid checks if the filter is valid
	Valid() bool
}

// FolderFilter matches notes filed in one folder (by local id).
type FolderFilter struct {
	FolderID string
}

func (f *FolderFilter) Valid() bool { return f.FolderID != "" }
func (f *FolderFilter) SQL() string { return "folder_id = ?" }
func (f *FolderFilter) Args() []interface{} { return []interface{}{f.FolderID} }

// SyncStatusFilter matches notes in one sync state.
type SyncStatusFilter struct {
	Status models.SyncStatus
}

// Valid checks if the status is known.
func (f *SyncStatusFilter) Valid() bool {
	switch f.Status {
	case models.SyncStatusSynced, models.SyncStatusPending, models.SyncStatusConflict:
		return true
	}
	return false
}

func (f *SyncStatusFilter) SQL() string { return "sync_status = ?" }
func (f *SyncStatusFilter) Args() []interface{} { return []interface{}{string(f.Status)} }

// UpdatedRangeFilter filters by local_updated_at (Unix milliseconds).
type UpdatedRangeFilter struct {
	From int64
	To   int64
}

// Valid checks if the range is usable.
func (f *UpdatedRangeFilter) Valid() bool {
	if f.From == 0 && f.To == 0 {
		return false
	}
	return f.From == 0 || f.To == 0 || f.From <= f.To
}

// SQL returns the SQL fragment for range filtering.
func (f *UpdatedRangeFilter) SQL() string {
	var parts []string
	if f.From > 0 {
		parts = append(parts, "local_updated_at >= ?")
	}
	if f.To > 0 {
		parts = append(parts, "local_updated_at <= ?")
	}
	return strings.Join(parts, " AND ")
}

// Args returns the arguments for range filtering.
func (f *UpdatedRangeFilter) Args() []interface{} {
	var args []interface{}
	if f.From > 0 {
		args = append(args, f.From)
	}
	if f.To > 0 {
		args = append(args, f.To)
	}
	return args
}

// TagsFilter matches notes carrying any of the tags.
type TagsFilter struct {
	Tags []string
}

// Valid checks if the tag filter is valid.
func (f *TagsFilter) Valid() bool {
	if len(f.Tags) == 0 {
		return false
	}
	for _, tag := range f.Tags {
		if strings.TrimSpace(tag) == "" {
			return false
		}
	}
	return true
}

// SQL matches against the JSON tag array.
func (f *TagsFilter) SQL() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(f.Tags)), ", ")
	return "EXISTS (SELECT 1 FROM json_each(notes.tags) WHERE json_each.value IN (" + placeholders + "))"
}

// Args returns the arguments for tag filtering.
func (f *TagsFilter) Args() []interface{} {
	args := make([]interface{}, 0, len(f.Tags))
	for _, tag := range f.Tags {
		args = append(args, strings.TrimSpace(tag))
	}
	return args
}

// rawFilter is a fixed condition without arguments.
type rawFilter string

func (f rawFilter) Valid() bool { return f != "" }
func (f rawFilter) SQL() string { return string(f) }
func (f rawFilter) Args() []interface{} { return nil }

// FilterBuilder builds SQL filter conditions from multiple filters.
type FilterBuilder struct {
	filters []Filter
}

// NewFilterBuilder creates a new FilterBuilder.
func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{}
}

// Add appends f if it is valid.
func (fb *FilterBuilder) Add(f Filter) *FilterBuilder {
	if f.Valid() {
		fb.filters = append(fb.filters, f)
	}
	return fb
}

// HasFilters returns true if any filters have been added.
func (fb *FilterBuilder) HasFilters() bool {
	return len(fb.filters) > 0
}

// Build returns the WHERE fragment (without the keyword) and its arguments.
func (fb *FilterBuilder) Build() (string, []interface{}) {
	if !fb.HasFilters() {
		return "", nil
	}
	var sqlParts []string
	var args []interface{}
	for _, filter := range fb.filters {
		sqlParts = append(sqlParts, filter.SQL())
		args = append(args, filter.Args()...)
	}
	return strings.Join(sqlParts, " AND "), args
}

// NoteFilter selects notes for ListNotes and SearchNotes.
type NoteFilter struct {
	FolderID        string
	Tags            []string
	Status          models.SyncStatus
	UpdatedFrom     int64
	UpdatedTo       int64
	IncludeDeleted  bool
	IncludeArchived bool
	Limit           int
	Offset          int
}

func (f NoteFilter) builder() *FilterBuilder {
	fb := NewFilterBuilder()
	if !f.IncludeDeleted {
		fb.Add(rawFilter("notes.is_deleted = 0"))
	}
	if !f.IncludeArchived {
		fb.Add(rawFilter("notes.is_archived = 0"))
	}
	fb.Add(&FolderFilter{FolderID: f.FolderID})
	fb.Add(&SyncStatusFilter{Status: f.Status})
	fb.Add(&UpdatedRangeFilter{From: f.UpdatedFrom, To: f.UpdatedTo})
	fb.Add(&TagsFilter{Tags: trimTags(f.Tags)})
	return fb
}

// trimTags trims each tag and drops blank ones.
func trimTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// TagsFromCommaString parses tags from a comma-separated string.
func TagsFromCommaString(tagsStr string) []string {
	return trimTags(strings.Split(tagsStr, ","))
}
