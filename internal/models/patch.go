package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// NotePatch is a partial update for a Note. Nil fields are not supplied.
type NotePatch struct {
	Title      *string            `json:"title,omitempty"`
	Transcript *string            `json:"transcript,omitempty"`
	Summary    *string            `json:"summary,omitempty"`
	Duration   *int               `json:"duration,omitempty"`
	AudioURL   *string            `json:"audio_url,omitempty"`
	FolderID   *string            `json:"folder_id,omitempty"`
	Tags       *[]string          `json:"tags,omitempty"`
	IsPinned   *bool              `json:"is_pinned,omitempty"`
	IsArchived *bool              `json:"is_archived,omitempty"`
	AIMetadata *map[string]string `json:"ai_metadata,omitempty"`
}

// Merge returns p with every field supplied by next overwritten.
func (p NotePatch) Merge(next NotePatch) NotePatch {
	if next.Title != nil {
		p.Title = next.Title
	}
	if next.Transcript != nil {
		p.Transcript = next.Transcript
	}
	if next.Summary != nil {
		p.Summary = next.Summary
	}
	if next.Duration != nil {
		p.Duration = next.Duration
	}
	if next.AudioURL != nil {
		p.AudioURL = next.AudioURL
	}
	if next.FolderID != nil {
		p.FolderID = next.FolderID
	}
	if next.Tags != nil {
		p.Tags = next.Tags
	}
	if next.IsPinned != nil {
		p.IsPinned = next.IsPinned
	}
	if next.IsArchived != nil {
		p.IsArchived = next.IsArchived
	}
	if next.AIMetadata != nil {
		p.AIMetadata = next.AIMetadata
	}
	return p
}

// Apply writes the supplied fields onto n.
func (p NotePatch) Apply(n *Note) {
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Transcript != nil {
		n.Transcript = *p.Transcript
	}
	if p.Summary != nil {
		n.Summary = *p.Summary
	}
	if p.Duration != nil {
		n.Duration = *p.Duration
	}
	if p.AudioURL != nil {
		n.AudioURL = *p.AudioURL
	}
	if p.FolderID != nil {
		n.FolderID = *p.FolderID
	}
	if p.Tags != nil {
		n.Tags = cloneStrings(*p.Tags)
	}
	if p.IsPinned != nil {
		n.IsPinned = *p.IsPinned
	}
	if p.IsArchived != nil {
		n.IsArchived = *p.IsArchived
	}
	if p.AIMetadata != nil {
		n.AIMetadata = cloneMap(*p.AIMetadata)
	}
}

// NotePatchOf returns a patch supplying every field of n.
func NotePatchOf(n *Note) NotePatch {
	tags := cloneStrings(n.Tags)
	if tags == nil {
		tags = []string{}
	}
	meta := cloneMap(n.AIMetadata)
	return NotePatch{
		Title:      Ptr(n.Title),
		Transcript: Ptr(n.Transcript),
		Summary:    Ptr(n.Summary),
		Duration:   Ptr(n.Duration),
		AudioURL:   Ptr(n.AudioURL),
		FolderID:   Ptr(n.FolderID),
		Tags:       &tags,
		IsPinned:   Ptr(n.IsPinned),
		IsArchived: Ptr(n.IsArchived),
		AIMetadata: &meta,
	}
}

// FolderPatch is a partial update for a Folder.
type FolderPatch struct {
	Name      *string `json:"name,omitempty"`
	Icon      *string `json:"icon,omitempty"`
	Color     *string `json:"color,omitempty"`
	ParentID  *string `json:"parent_id,omitempty"`
	SortOrder *int    `json:"sort_order,omitempty"`
}

// Merge returns p with every field supplied by next overwritten.
func (p FolderPatch) Merge(next FolderPatch) FolderPatch {
	if next.Name != nil {
		p.Name = next.Name
	}
	if next.Icon != nil {
		p.Icon = next.Icon
	}
	if next.Color != nil {
		p.Color = next.Color
	}
	if next.ParentID != nil {
		p.ParentID = next.ParentID
	}
	if next.SortOrder != nil {
		p.SortOrder = next.SortOrder
	}
	return p
}

// Apply writes the supplied fields onto f.
func (p FolderPatch) Apply(f *Folder) {
	if p.Name != nil {
		f.Name = *p.Name
	}
	if p.Icon != nil {
		f.Icon = *p.Icon
	}
	if p.Color != nil {
		f.Color = *p.Color
	}
	if p.ParentID != nil {
		f.ParentID = *p.ParentID
	}
	if p.SortOrder != nil {
		f.SortOrder = *p.SortOrder
	}
}

// FolderPatchOf returns a patch supplying every field of f.
func FolderPatchOf(f *Folder) FolderPatch {
	return FolderPatch{
		Name:      Ptr(f.Name),
		Icon:      Ptr(f.Icon),
		Color:     Ptr(f.Color),
		ParentID:  Ptr(f.ParentID),
		SortOrder: Ptr(f.SortOrder),
	}
}

// ActionPatch is a partial update for an Action.
type ActionPatch struct {
	ActionType    *ActionType        `json:"action_type,omitempty"`
	Status        *ActionStatus      `json:"status,omitempty"`
	Priority      *ActionPriority    `json:"priority,omitempty"`
	Title         *string            `json:"title,omitempty"`
	ScheduledDate *int64             `json:"scheduled_date,omitempty"`
	Location      *string            `json:"location,omitempty"`
	Attendees     *[]string          `json:"attendees,omitempty"`
	EmailTo       *string            `json:"email_to,omitempty"`
	EmailSubject  *string            `json:"email_subject,omitempty"`
	EmailBody     *string            `json:"email_body,omitempty"`
	Details       *map[string]string `json:"details,omitempty"`
}

// Merge returns p with every field supplied by next overwritten.
func (p ActionPatch) Merge(next ActionPatch) ActionPatch {
	if next.ActionType != nil {
		p.ActionType = next.ActionType
	}
	if next.Status != nil {
		p.Status = next.Status
	}
	if next.Priority != nil {
		p.Priority = next.Priority
	}
	if next.Title != nil {
		p.Title = next.Title
	}
	if next.ScheduledDate != nil {
		p.ScheduledDate = next.ScheduledDate
	}
	if next.Location != nil {
		p.Location = next.Location
	}
	if next.Attendees != nil {
		p.Attendees = next.Attendees
	}
	if next.EmailTo != nil {
		p.EmailTo = next.EmailTo
	}
	if next.EmailSubject != nil {
		p.EmailSubject = next.EmailSubject
	}
	if next.EmailBody != nil {
		p.EmailBody = next.EmailBody
	}
	if next.Details != nil {
		p.Details = next.Details
	}
	return p
}

// Apply writes the supplied fields onto a.
func (p ActionPatch) Apply(a *Action) {
	if p.ActionType != nil {
		a.ActionType = *p.ActionType
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.Priority != nil {
		a.Priority = *p.Priority
	}
	if p.Title != nil {
		a.Title = *p.Title
	}
	if p.ScheduledDate != nil {
		a.ScheduledDate = *p.ScheduledDate
	}
	if p.Location != nil {
		a.Location = *p.Location
	}
	if p.Attendees != nil {
		a.Attendees = cloneStrings(*p.Attendees)
	}
	if p.EmailTo != nil {
		a.EmailTo = *p.EmailTo
	}
	if p.EmailSubject != nil {
		a.EmailSubject = *p.EmailSubject
	}
	if p.EmailBody != nil {
		a.EmailBody = *p.EmailBody
	}
	if p.Details != nil {
		a.Details = cloneMap(*p.Details)
	}
}

// ActionPatchOf returns a patch supplying every field of a.
func ActionPatchOf(a *Action) ActionPatch {
	attendees := cloneStrings(a.Attendees)
	if attendees == nil {
		attendees = []string{}
	}
	details := cloneMap(a.Details)
	return ActionPatch{
		ActionType:    Ptr(a.ActionType),
		Status:        Ptr(a.Status),
		Priority:      Ptr(a.Priority),
		Title:         Ptr(a.Title),
		ScheduledDate: Ptr(a.ScheduledDate),
		Location:      Ptr(a.Location),
		Attendees:     &attendees,
		EmailTo:       Ptr(a.EmailTo),
		EmailSubject:  Ptr(a.EmailSubject),
		EmailBody:     Ptr(a.EmailBody),
		Details:       &details,
	}
}

// Payload is the partial field set carried by a queued operation. Exactly one
// member is set; a nil *Payload is used for deletes.
type Payload struct {
	Note   *NotePatch   `json:"note,omitempty"`
	Folder *FolderPatch `json:"folder,omitempty"`
	Action *ActionPatch `json:"action,omitempty"`
}

// NotePayload wraps a NotePatch.
func NotePayload(p NotePatch) *Payload { return &Payload{Note: &p} }

// FolderPayload wraps a FolderPatch.
func FolderPayload(p FolderPatch) *Payload { return &Payload{Folder: &p} }

// ActionPayload wraps an ActionPatch.
func ActionPayload(p ActionPatch) *Payload { return &Payload{Action: &p} }

// PayloadOf returns a payload supplying every field of e.
func PayloadOf(e Entity) *Payload {
	switch v := e.(type) {
	case *Note:
		return NotePayload(NotePatchOf(v))
	case *Folder:
		return FolderPayload(FolderPatchOf(v))
	case *Action:
		return ActionPayload(ActionPatchOf(v))
	}
	return nil
}

// Type returns the entity type the payload targets.
func (p *Payload) Type() (EntityType, bool) {
	if p == nil {
		return "", false
	}
	switch {
	case p.Note != nil && p.Folder == nil && p.Action == nil:
		return EntityNote, true
	case p.Folder != nil && p.Note == nil && p.Action == nil:
		return EntityFolder, true
	case p.Action != nil && p.Note == nil && p.Folder == nil:
		return EntityAction, true
	}
	return "", false
}

// Validate checks that the payload is a single member matching t.
func (p *Payload) Validate(t EntityType) error {
	if p == nil {
		return nil
	}
	got, ok := p.Type()
	if !ok {
		return fmt.Errorf("payload must set exactly one entity patch")
	}
	if got != t {
		return fmt.Errorf("payload is a %s patch, operation targets %s", got, t)
	}
	return nil
}

// Merge shallow-merges next over p. Either side may be nil.
func (p *Payload) Merge(next *Payload) (*Payload, error) {
	if p == nil {
		return next.clone(), nil
	}
	if next == nil {
		return p.clone(), nil
	}
	a, ok := p.Type()
	if !ok {
		return nil, fmt.Errorf("invalid existing payload")
	}
	if err := next.Validate(a); err != nil {
		return nil, err
	}
	switch a {
	case EntityNote:
		m := p.Note.Merge(*next.Note)
		return &Payload{Note: &m}, nil
	case EntityFolder:
		m := p.Folder.Merge(*next.Folder)
		return &Payload{Folder: &m}, nil
	default:
		m := p.Action.Merge(*next.Action)
		return &Payload{Action: &m}, nil
	}
}

// Fields lists the supplied field names, sorted. Used for logging.
func (p *Payload) Fields() []string {
	if p == nil {
		return nil
	}
	var raw []byte
	var err error
	switch {
	case p.Note != nil:
		raw, err = json.Marshal(p.Note)
	case p.Folder != nil:
		raw, err = json.Marshal(p.Folder)
	case p.Action != nil:
		raw, err = json.Marshal(p.Action)
	default:
		return nil
	}
	if err != nil {
		return nil
	}
	var m map[string]json.RawMessage
	if json.Unmarshal(raw, &m) != nil {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (p *Payload) clone() *Payload {
	if p == nil {
		return nil
	}
	c := *p
	if p.Note != nil {
		n := *p.Note
		c.Note = &n
	}
	if p.Folder != nil {
		f := *p.Folder
		c.Folder = &f
	}
	if p.Action != nil {
		a := *p.Action
		c.Action = &a
	}
	return &c
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
