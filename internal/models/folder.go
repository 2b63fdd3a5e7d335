package models

// SystemFolderName is the protected folder every account has.
const SystemFolderName = "All Notes"

// Folder groups notes. System folders cannot be deleted by the user.
type Folder struct {
	SyncFields
	Name      string `db:"name" json:"name"`
	Icon      string `db:"icon" json:"icon,omitempty"`
	Color     string `db:"color" json:"color,omitempty"`
	ParentID  string `db:"parent_id" json:"parent_id,omitempty"` // local id
	SortOrder int    `db:"sort_order" json:"sort_order"`
	IsSystem  bool   `db:"is_system" json:"is_system"`
}

// EntityType implements Entity.
func (*Folder) EntityType() EntityType {
	return EntityFolder
}

// TableName returns the table name for Folder.
func (Folder) TableName() string {
	return "folders"
}

// Clone returns a copy.
func (f *Folder) Clone() *Folder {
	c := *f
	return &c
}
