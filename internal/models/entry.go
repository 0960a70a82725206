package models

import "github.com/google/uuid"

type EntryKind string

const (
	EntryKindFile      EntryKind = "file"
	EntryKindDirectory EntryKind = "directory"
)

type EntryState string

const (
	EntryStateActive  EntryState = "active"
	EntryStateTrashed EntryState = "trashed"
	EntryStateShared  EntryState = "shared"
)

// FileEntry is one node of a user's workspace tree. The hierarchy is an
// adjacency tree via ParentID; Path is the materialized logical parent
// directory ("/" for root children) and is rewritten for the whole subtree
// when an ancestor is renamed or moved. Shared copies are flat rows: their
// Name is the path relative to the share key directory and ParentID is nil.
type FileEntry struct {
	BaseModel
	OwnerID  uuid.UUID  `json:"ownerID" gorm:"type:uuid;not null;index"`
	Kind     EntryKind  `json:"kind" gorm:"type:varchar(20);not null;index"`
	Name     string     `json:"name" gorm:"type:varchar(512);not null"`
	ParentID *uuid.UUID `json:"parentID,omitempty" gorm:"type:uuid;index"`
	Path     string     `json:"path" gorm:"type:text;not null"`
	State    EntryState `json:"state" gorm:"type:varchar(20);not null;default:'active';index"`
	ShareKey *string    `json:"shareKey,omitempty" gorm:"type:varchar(16);index"`
	Size     string     `json:"size" gorm:"type:varchar(32);not null;default:''"`

	Parent   *FileEntry  `json:"-" gorm:"foreignKey:ParentID"`
	Children []FileEntry `json:"-" gorm:"foreignKey:ParentID"`
	Owner    User        `json:"-" gorm:"foreignKey:OwnerID;references:ID"`
}

func (e *FileEntry) IsDirectory() bool {
	return e.Kind == EntryKindDirectory
}
