package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/glidenotes/notesync/internal/models"
)

var actionKind = kind[*models.Action]{
	entity: models.EntityAction,
	table:  "actions",
	columns: []string{
		"note_id", "action_type", "status", "priority", "title", "scheduled_date",
		"location", "attendees", "email_to", "email_subject", "email_body", "details",
	},
	scan:   scanAction,
	values: actionValues,
}

func scanAction(s rowScanner) (*models.Action, error) {
	var a models.Action
	var sid sql.NullString
	var attendees, details string
	dest := append(syncDest(&a.SyncFields, &sid),
		&a.NoteID, &a.ActionType, &a.Status, &a.Priority, &a.Title, &a.ScheduledDate,
		&a.Location, &attendees, &a.EmailTo, &a.EmailSubject, &a.EmailBody, &details)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	a.ServerID = sid.String
	if err := decodeJSON(attendees, &a.Attendees); err != nil {
		return nil, fmt.Errorf("decode attendees: %w", err)
	}
	if err := decodeJSON(details, &a.Details); err != nil {
		return nil, fmt.Errorf("decode details: %w", err)
	}
	return &a, nil
}

func actionValues(a *models.Action) ([]interface{}, error) {
	attendees := a.Attendees
	if attendees == nil {
		attendees = []string{}
	}
	attendeesJSON, err := encodeJSON(attendees)
	if err != nil {
		return nil, err
	}
	details := a.Details
	if details == nil {
		details = map[string]string{}
	}
	detailsJSON, err := encodeJSON(details)
	if err != nil {
		return nil, err
	}
	status := a.Status
	if status == "" {
		status = models.ActionStatusPending
	}
	priority := a.Priority
	if priority == "" {
		priority = models.ActionPriorityMedium
	}
	return []interface{}{
		a.NoteID, string(a.ActionType), string(status), string(priority), a.Title, a.ScheduledDate,
		a.Location, attendeesJSON, a.EmailTo, a.EmailSubject, a.EmailBody, detailsJSON,
	}, nil
}

// CreateAction inserts a new action, assigning its local id if empty.
func (r *Repository) CreateAction(ctx context.Context, a *models.Action) error {
	if a.Status == "" {
		a.Status = models.ActionStatusPending
	}
	if a.Priority == "" {
		a.Priority = models.ActionPriorityMedium
	}
	return create(ctx, r, actionKind, a)
}

// GetAction retrieves an action by local id, tombstones included.
func (r *Repository) GetAction(ctx context.Context, localID string) (*models.Action, error) {
	return getOne(ctx, r.db, actionKind, "local_id = ?", localID)
}

// GetActionByServerID retrieves an action by server id.
func (r *Repository) GetActionByServerID(ctx context.Context, serverID string) (*models.Action, error) {
	return getOne(ctx, r.db, actionKind, "server_id = ?", serverID)
}

// UpdateAction applies patch to a live action.
func (r *Repository) UpdateAction(ctx context.Context, localID string, patch models.ActionPatch, origin Origin) (*models.Action, error) {
	return update(ctx, r, actionKind, localID, origin, func(a *models.Action) { patch.Apply(a) })
}

// SoftDeleteAction tombstones an action. It returns false if it does not exist.
func (r *Repository) SoftDeleteAction(ctx context.Context, localID string) (bool, error) {
	return softDelete(ctx, r, actionKind, localID)
}

// UpsertActionFromRemote stores a server version of an action. NoteID must
// already be a local note id.
func (r *Repository) UpsertActionFromRemote(ctx context.Context, a *models.Action) (UpsertResult, error) {
	return upsertFromRemote(ctx, r, actionKind, a)
}

// ListActions returns the live actions of a note, or of every note when
// noteID is empty.
func (r *Repository) ListActions(ctx context.Context, noteID string) ([]*models.Action, error) {
	where := "is_deleted = 0"
	var args []interface{}
	if noteID != "" {
		where += " AND note_id = ?"
		args = append(args, noteID)
	}
	return listWhere(ctx, r.db, actionKind, where, "ORDER BY scheduled_date, created_at, local_id", args...)
}
