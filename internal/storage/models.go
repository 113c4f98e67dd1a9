package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Session groups the results of one generation batch.
type Session struct {
	ID        string
	CreatedAt time.Time
	Status    string // "running", "completed", "cancelled"
	Model     string
	TaskType  string
	Total     int
}

// ResultRecord is the persisted terminal state of one work item. The id is
// stable across retries: saving again with the same id updates in place.
type ResultRecord struct {
	ID           string
	SessionID    string
	Seq          int
	Status       string // "done", "error", "timeout", "aborted", "retrying"
	Query        string
	Reasoning    string
	Answer       string
	ErrorMessage string
	DurationMs   int64
	TokenCount   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
