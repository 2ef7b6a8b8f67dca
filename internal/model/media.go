package model

import "time"

// Media is a media object row in a tree database. The binary content lives
// in file storage; the row tracks its relative path, MIME type, and an MD5
// checksum used for conditional requests and change detection.
type Media struct {
	Handle    string    `json:"handle" db:"handle"`
	Path      string    `json:"path" db:"path"`
	MIME      string    `json:"mime" db:"mime"`
	Checksum  string    `json:"checksum" db:"checksum"` // md5 hex of the file content
	Desc      string    `json:"desc" db:"description"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// MediaChange is the change-log document returned by a transactional media
// update: the row as it was before the update and as committed.
type MediaChange struct {
	Old Media `json:"old"`
	New Media `json:"new"`
}
