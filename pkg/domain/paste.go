package domain

import (
	"time"
)

// Paste is a bundle of text files sharing one public ID, one removal key
// and one expiration deadline.
type Paste struct {
	ID         string    `json:"id"`
	RemovalKey string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Files      []File    `json:"files"`
}

// File is a single named blob within a paste. Positions are 1-based and
// contiguous within a paste. Filename may be nil ("unnamed"). Content holds
// decoded text at the service boundary; at rest it is compressed bytes.
type File struct {
	Position int     `json:"position"`
	Filename *string `json:"filename"`
	Content  string  `json:"content"`
}

// FileInput is the caller-supplied shape for create and update.
type FileInput struct {
	Filename *string
	Content  string
}

type CreateParams struct {
	Files []FileInput
	TTL   time.Duration
}

type UpdateParams struct {
	ID    string
	Files []FileInput
}

// TotalSize sums the original (pre-compression) byte lengths, which is what
// counts against the paste size quota.
func TotalSize(files []FileInput) int64 {
	var total int64
	for _, f := range files {
		total += int64(len(f.Content))
	}
	return total
}
