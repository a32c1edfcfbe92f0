package models

import "time"

// Artifact is a generated audio file on disk.
type Artifact struct {
	OwnerID   string    `json:"ownerId"`
	Filename  string    `json:"filename"`
	Path      string    `json:"-"` // Internal use, not exposed to client
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}
