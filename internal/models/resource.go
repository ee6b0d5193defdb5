package models

import (
	"path"
	"strings"
	"time"
)

// InodeType distinguishes files from folders in a connection listing.
type InodeType string

const (
	InodeFile      InodeType = "file"
	InodeDirectory InodeType = "directory"
)

// InodePath is the display path of a resource inside its drive.
type InodePath struct {
	Path string `json:"path"`
}

// Resource is a file or folder node returned by the Stack AI backend.
// The parent id is not carried on the wire; it is known only through the
// folder listing the resource came from.
type Resource struct {
	ResourceID string     `json:"resource_id"`
	InodeType  InodeType  `json:"inode_type"`
	InodePath  InodePath  `json:"inode_path"`
	Status     string     `json:"status,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

// IsDirectory reports whether the resource is a folder.
func (r Resource) IsDirectory() bool {
	return r.InodeType == InodeDirectory
}

// Name returns the last non-empty segment of the resource path.
func (r Resource) Name() string {
	p := strings.TrimRight(r.InodePath.Path, "/")
	if p == "" {
		return r.ResourceID
	}
	return path.Base(p)
}

// Path returns the resource path with a leading slash, as expected by the
// knowledge base resource endpoints.
func (r Resource) Path() string {
	p := r.InodePath.Path
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// ResourcePage is the listing envelope returned by children endpoints.
type ResourcePage struct {
	Data          []Resource `json:"data"`
	NextCursor    *string    `json:"next_cursor"`
	CurrentCursor *string    `json:"current_cursor"`
}

// Connection is an authorized link between the user and a drive provider.
type Connection struct {
	ConnectionID       string     `json:"connection_id"`
	Name               string     `json:"name"`
	ConnectionProvider string     `json:"connection_provider"`
	CreatedAt          *time.Time `json:"created_at,omitempty"`
	UpdatedAt          *time.Time `json:"updated_at,omitempty"`
}
