// Package models defines server-side data models: persisted rows and the
// schemas handed between the HTTP layer and the files service.
package models

import "time"

// Storage is a user-owned namespace that files and folders live in.
type Storage struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

// File is the metadata row of a stored object. Folders are rows whose Path
// ends with "/" and that have no blob behind them.
type File struct {
	ID         string
	StorageID  string
	Path       string
	Size       int64
	Checksum   string
	StorageKey string
	IsUploaded bool
	CreatedAt  time.Time
}

// IsFolder reports whether the row is a folder marker.
func (f *File) IsFolder() bool {
	return len(f.Path) > 0 && f.Path[len(f.Path)-1] == '/'
}
