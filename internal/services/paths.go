package services

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/skydisk/backend/internal/models"
)

// Remote layout under the blob store root:
//
//	/{owner}/...            live tree, mirroring the logical hierarchy
//	/{owner}/.trash/{id}    one slot per trashed subtree root
//	/{owner}/.share/{key}/  one directory per share, holding the copies
const (
	trashDirName = ".trash"
	shareDirName = ".share"
)

// joinLogical appends name to a logical directory path.
func joinLogical(dir, name string) string {
	if dir == "/" || dir == "" {
		return "/" + name
	}
	return dir + "/" + name
}

// splitLogical returns the directory and leaf name of a logical path.
func splitLogical(path string) (dir, name string) {
	i := strings.LastIndex(path, "/")
	if i <= 0 {
		return "/", strings.TrimPrefix(path, "/")
	}
	return path[:i], path[i+1:]
}

func ownerRoot(owner uuid.UUID) string {
	return "/" + owner.String()
}

func trashRoot(owner uuid.UUID) string {
	return ownerRoot(owner) + "/" + trashDirName
}

func trashSlot(owner uuid.UUID, entryID uuid.UUID) string {
	return trashRoot(owner) + "/" + entryID.String()
}

func shareRoot(owner uuid.UUID) string {
	return ownerRoot(owner) + "/" + shareDirName
}

func shareDir(owner uuid.UUID, key string) string {
	return shareRoot(owner) + "/" + key
}

// activePhysical maps a live logical path to its remote object path.
func activePhysical(owner uuid.UUID, logical string) string {
	if logical == "/" {
		return ownerRoot(owner)
	}
	return ownerRoot(owner) + logical
}

// sharedPhysical maps a shared copy to its remote object path. The Name of
// a shared row is its path relative to the share directory.
func sharedPhysical(e *models.FileEntry) string {
	return shareDir(e.OwnerID, *e.ShareKey) + "/" + e.Name
}

// normalizeName strips all whitespace from a submitted entry name.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(name), "")
}

// suffixName produces the n-th collision variant of name: the counter goes
// before the last extension dot, so "report.txt" becomes "report(1).txt"
// while "notes" becomes "notes(1)".
func suffixName(name string, n int) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i] + "(" + strconv.Itoa(n) + ")" + name[i:]
	}
	return name + "(" + strconv.Itoa(n) + ")"
}
