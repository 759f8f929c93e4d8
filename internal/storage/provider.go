// Package storage defines the workspace file-system abstraction used for
// tree inputs, run outputs and the review inbox.
package storage

import "time"

// FileInfo describes a file under a workspace root.
type FileInfo struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for workspace file operations. All paths are
// relative to the workspace root.
type Provider interface {
	// List returns metadata for every file under dir whose extension is one
	// of exts (all files when exts is empty).
	List(dir string, exts ...string) ([]FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
	// Abs resolves path to an absolute path inside the root.
	Abs(path string) (string, error)
}
