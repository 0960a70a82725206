package services

import "errors"

var (
	// ErrEntryNotFound covers both an unknown id and an entry that is not
	// in the namespace the operation expects (e.g. renaming a trashed entry).
	ErrEntryNotFound = errors.New("entry not found")

	// ErrNameConflict reports that the requested name is already taken by a
	// live sibling.
	ErrNameConflict = errors.New("name already exists")

	// ErrPermissionDenied reports that the acting user neither owns the
	// entry nor reaches it through the share namespace.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrIsDirectory reports a content read against a directory.
	ErrIsDirectory = errors.New("entry is a directory")

	// ErrNotTrashed reports a restore against an entry that is not in trash.
	ErrNotTrashed = errors.New("entry is not in trash")

	// ErrNotShared reports a share-scoped operation against an entry that is
	// not a shared copy.
	ErrNotShared = errors.New("entry is not shared")

	// ErrInvalidName reports an empty or unusable entry name.
	ErrInvalidName = errors.New("invalid name")
)
