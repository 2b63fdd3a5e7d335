package remote

import "github.com/glidenotes/notesync/internal/models"

// ApplyNotePatch sets the supplied fields of p on n.
func ApplyNotePatch(n *Note, p models.NotePatch) {
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
		n.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.IsPinned != nil {
		n.IsPinned = *p.IsPinned
	}
	if p.IsArchived != nil {
		n.IsArchived = *p.IsArchived
	}
	if p.AIMetadata != nil {
		n.AIMetadata = CopyMap(*p.AIMetadata)
	}
}

// ApplyFolderPatch sets the supplied fields of p on f.
func ApplyFolderPatch(f *Folder, p models.FolderPatch) {
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

// ApplyActionPatch sets the supplied fields of p on a.
func ApplyActionPatch(a *Action, p models.ActionPatch) {
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
		a.Attendees = append([]string(nil), (*p.Attendees)...)
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
		a.Details = CopyMap(*p.Details)
	}
}

// CopyMap returns a copy of in, nil for nil.
func CopyMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
