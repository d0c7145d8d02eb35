package models

import (
	"time"

	"github.com/google/uuid"
)

// Terminal call statuses, persisted to call history.
const (
	CallAnswered  = "answered"
	CallMissed    = "missed"
	CallRejected  = "rejected"
	CallCancelled = "cancelled"
)

// CallRecord is the durable outcome of a single call attempt. Exactly one
// record is written per attempt that reached a reachable receiver.
type CallRecord struct {
	ID        uuid.UUID `json:"id"`
	Caller    string    `json:"caller"`
	Receiver  string    `json:"receiver"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Duration  int64     `json:"duration"` // seconds
	Status    string    `json:"status"`
}
