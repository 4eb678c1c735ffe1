package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind identifies a user-visible conflict notice
type NotificationKind string

// Notification kinds
const (
	NotificationConflictDetected NotificationKind = "conflict_detected"
	NotificationConflictResolved NotificationKind = "conflict_resolved"
	NotificationManualReview     NotificationKind = "manual_review_pending"
	NotificationPrediction       NotificationKind = "conflict_prediction"
)

// Notification is a user-visible conflict or resolution notice delivered by
// the injected notifier collaborator
type Notification struct {
	Kind         NotificationKind   `json:"kind"`
	WhiteboardID string             `json:"whiteboard_id"`
	ConflictID   uuid.UUID          `json:"conflict_id,omitempty"`
	Strategy     ResolutionStrategy `json:"strategy,omitempty"`
	Message      string             `json:"message"`
	// Suggestions carries alternative actions shown alongside a pending
	// manual review; a conflicted edit never surfaces as a hard failure.
	Suggestions []string  `json:"suggestions,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}
