package models

// Note is a voice or text note.
type Note struct {
	SyncFields
	Title      string            `db:"title" json:"title"`
	Transcript string            `db:"transcript" json:"transcript"`
	Summary    string            `db:"summary" json:"summary,omitempty"`
	Duration   int               `db:"duration" json:"duration"` // seconds
	AudioURL   string            `db:"audio_url" json:"audio_url,omitempty"`
	FolderID   string            `db:"folder_id" json:"folder_id,omitempty"` // local id
	Tags       []string          `db:"tags" json:"tags"`
	IsPinned   bool              `db:"is_pinned" json:"is_pinned"`
	IsArchived bool              `db:"is_archived" json:"is_archived"`
	AIMetadata map[string]string `db:"ai_metadata" json:"ai_metadata,omitempty"`
	DeletedAt  int64             `db:"deleted_at" json:"deleted_at,omitempty"`
}

// EntityType implements Entity.
func (*Note) EntityType() EntityType {
	return EntityNote
}

// TableName returns the table name for Note.
func (Note) TableName() string {
	return "notes"
}

// Clone returns a deep copy.
func (n *Note) Clone() *Note {
	c := *n
	c.Tags = cloneStrings(n.Tags)
	c.AIMetadata = cloneMap(n.AIMetadata)
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
