package types

import "time"

// AuditLogEntry is an immutable record of one lifecycle event.
// ID is unique per event so retried appends can be deduplicated downstream.
type AuditLogEntry struct {
	ID          string         `json:"id"`
	EntityType  string         `json:"entityType"`
	EntityID    string         `json:"entityId"`
	Operation   string         `json:"operation"`
	UserID      string         `json:"userId"`
	Timestamp   time.Time      `json:"timestamp"`
	EventType   string         `json:"eventType"`
	EventData   map[string]any `json:"eventData,omitempty"`
	ExecutionID string         `json:"executionId,omitempty"`
	ModelID     string         `json:"modelId,omitempty"`
}
