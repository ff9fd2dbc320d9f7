package domain

import "time"

// DeadLetterRecord marks an event whose delivery was abandoned after the
// attempt cap. Created exactly once per failed event; remediation is a
// manual operator concern, so this subsystem never updates or deletes rows.
type DeadLetterRecord struct {
	ID            string
	EventID       string
	FailureReason string
	MovedAt       time.Time
}
