package models

import "time"

// PreventionStrategy is a suggested action a client can take to avoid a
// predicted conflict
type PreventionStrategy string

// Prevention strategies
const (
	PreventionStaggerEdits PreventionStrategy = "stagger_edits"
	PreventionLockRegion   PreventionStrategy = "lock_region"
	PreventionNotifyUsers  PreventionStrategy = "notify_users"
)

// UserActivity is an ephemeral live signal from a connected client: cursor
// position, viewport and the element currently being manipulated. Activity
// records are advisory inputs to prediction only and are never persisted.
type UserActivity struct {
	UserID        string    `json:"user_id"`
	WhiteboardID  string    `json:"whiteboard_id"`
	CursorX       float64   `json:"cursor_x"`
	CursorY       float64   `json:"cursor_y"`
	Viewport      *Bounds   `json:"viewport,omitempty"`
	ActiveElement string    `json:"active_element,omitempty"`
	SeenAt        time.Time `json:"seen_at"`
}

// ConflictPrediction is an advisory forecast of a likely future conflict.
// Predictions never block or mutate engine state; the gateway forwards them
// to clients as warnings.
type ConflictPrediction struct {
	Type        ConflictType       `json:"type"`
	Probability float64            `json:"probability"`
	Severity    Severity           `json:"severity"`
	UserIDs     []string           `json:"user_ids"`
	ElementID   string             `json:"element_id,omitempty"`
	Region      *Bounds            `json:"region,omitempty"`
	Prevention  PreventionStrategy `json:"prevention"`
	PredictedAt time.Time          `json:"predicted_at"`
}
