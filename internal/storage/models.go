package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// JobRecord is the stored form of a job, including fields the public
// domain.Job snapshot does not expose (upload path, claim bookkeeping).
type JobRecord struct {
	ID               string
	Status           string
	Message          string
	Progress         int
	OriginalFileName string
	VideoPath        string
	ResultID         string
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
