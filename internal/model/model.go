package model

import "time"

// PutJob is sent to put workers; nil pointer means stop.
type PutJob struct {
	Row int
}

// LookupJob is sent to lookup workers; nil pointer means stop.
type LookupJob struct {
	ID         string
	EnqueuedAt time.Time
}
