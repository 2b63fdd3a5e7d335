package models

// ActionType is the kind of follow-up extracted from or attached to a note.
type ActionType string

const (
	ActionCalendar ActionType = "calendar"
	ActionEmail    ActionType = "email"
	ActionReminder ActionType = "reminder"
	ActionNextStep ActionType = "next_step"
)

// ActionStatus tracks a follow-up's progress.
type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusCreated   ActionStatus = "created"
	ActionStatusCompleted ActionStatus = "completed"
	ActionStatusCancelled ActionStatus = "cancelled"
)

// ActionPriority orders reminders.
type ActionPriority string

const (
	ActionPriorityLow    ActionPriority = "low"
	ActionPriorityMedium ActionPriority = "medium"
	ActionPriorityHigh   ActionPriority = "high"
)

// Action is a follow-up belonging to a note.
type Action struct {
	SyncFields
	NoteID        string            `db:"note_id" json:"note_id"` // local id
	ActionType    ActionType        `db:"action_type" json:"action_type"`
	Status        ActionStatus      `db:"status" json:"status"`
	Priority      ActionPriority    `db:"priority" json:"priority"`
	Title         string            `db:"title" json:"title"`
	ScheduledDate int64             `db:"scheduled_date" json:"scheduled_date,omitempty"`
	Location      string            `db:"location" json:"location,omitempty"`
	Attendees     []string          `db:"attendees" json:"attendees,omitempty"`
	EmailTo       string            `db:"email_to" json:"email_to,omitempty"`
	EmailSubject  string            `db:"email_subject" json:"email_subject,omitempty"`
	EmailBody     string            `db:"email_body" json:"email_body,omitempty"`
	Details       map[string]string `db:"details" json:"details,omitempty"`
}

// EntityType implements Entity.
func (*Action) EntityType() EntityType {
	return EntityAction
}

// TableName returns the table name for Action.
func (Action) TableName() string {
	return "actions"
}

// Clone returns a deep copy.
func (a *Action) Clone() *Action {
	c := *a
	c.Attendees = cloneStrings(a.Attendees)
	c.Details = cloneMap(a.Details)
	return &c
}
