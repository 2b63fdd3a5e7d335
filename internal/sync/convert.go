package sync

import (
	"github.com/glidenotes/notesync/internal/models"
	"github.com/glidenotes/notesync/internal/remote"
)

// The remote records below are translated into local entities carrying the
// server id and version. Reference fields arrive already mapped to local ids.

func noteFromRemote(rn *remote.Note, folderID string) *models.Note {
	n := &models.Note{
		SyncFields: models.SyncFields{
			ServerID:        rn.ID,
			ServerUpdatedAt: rn.UpdatedAt,
			CreatedAt:       rn.CreatedAt,
		},
		Title:      rn.Title,
		Transcript: rn.Transcript,
		Summary:    rn.Summary,
		Duration:   rn.Duration,
		AudioURL:   rn.AudioURL,
		FolderID:   folderID,
		IsPinned:   rn.IsPinned,
		IsArchived: rn.IsArchived,
	}
	if rn.Tags != nil {
		n.Tags = append([]string{}, rn.Tags...)
	}
	if rn.AIMetadata != nil {
		n.AIMetadata = remote.CopyMap(rn.AIMetadata)
	}
	return n
}

func folderFromRemote(rf *remote.Folder, parentID string) *models.Folder {
	return &models.Folder{
		SyncFields: models.SyncFields{
			ServerID:        rf.ID,
			ServerUpdatedAt: rf.UpdatedAt,
			CreatedAt:       rf.CreatedAt,
		},
		Name:      rf.Name,
		Icon:      rf.Icon,
		Color:     rf.Color,
		ParentID:  parentID,
		SortOrder: rf.SortOrder,
		IsSystem:  rf.IsSystem,
	}
}

func actionFromRemote(ra *remote.Action, noteID string) *models.Action {
	a := &models.Action{
		SyncFields: models.SyncFields{
			ServerID:        ra.ID,
			ServerUpdatedAt: ra.UpdatedAt,
			CreatedAt:       ra.CreatedAt,
		},
		NoteID:        noteID,
		ActionType:    ra.ActionType,
		Status:        ra.Status,
		Priority:      ra.Priority,
		Title:         ra.Title,
		ScheduledDate: ra.ScheduledDate,
		Location:      ra.Location,
		EmailTo:       ra.EmailTo,
		EmailSubject:  ra.EmailSubject,
		EmailBody:     ra.EmailBody,
	}
	if ra.Attendees != nil {
		a.Attendees = append([]string{}, ra.Attendees...)
	}
	if ra.Details != nil {
		a.Details = remote.CopyMap(ra.Details)
	}
	return a
}
