package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// QueueEntry is one accepted, not-yet-consolidated batch of events. Entries
// are created by the ingestion gateway and deleted by the dreaming engine on
// successful consolidation. Delivery is at-least-once: a crashed consolidator
// leaves the entry in place for redelivery.
type QueueEntry struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID          string             `bson:"userId" json:"user_id"`
	Surface         Surface            `bson:"surface" json:"surface"`
	Events          []Event            `bson:"events" json:"events"`
	ClientTimestamp float64            `bson:"clientTimestamp" json:"client_timestamp"`
	ServerTimestamp time.Time          `bson:"serverTimestamp" json:"server_timestamp"`

	Status       string     `bson:"status" json:"status"` // "pending", "consolidating", "failed"
	AttemptCount int        `bson:"attemptCount" json:"attempt_count"`
	ErrorMessage string     `bson:"errorMessage,omitempty" json:"error_message,omitempty"`
	ClaimedAt    *time.Time `bson:"claimedAt,omitempty" json:"claimed_at,omitempty"`
}

// QueueEntry status constants
const (
	QueueStatusPending       = "pending"
	QueueStatusConsolidating = "consolidating"
	QueueStatusFailed        = "failed"
)
