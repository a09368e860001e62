package models

import "time"

// RecipientAll addresses a notification to everyone.
const RecipientAll = "all"

type Notification struct {
	ID           string    `json:"id"`
	DisasterID   string    `json:"disaster_id,omitempty"`
	DisasterType string    `json:"disaster_type,omitempty"`
	Location     Location  `json:"location"`
	Severity     Severity  `json:"severity,omitempty"`
	Message      string    `json:"message"`
	Advisory     string    `json:"advisory,omitempty"`
	Recipient    string    `json:"recipient"`
	Read         bool      `json:"read"`
	CreatedAt    time.Time `json:"created_at"`
}

type EscalationStatus string

const (
	EscalationPending  EscalationStatus = "pending"
	EscalationNotified EscalationStatus = "notified"
)

// Escalation flags a high-severity disaster for emergency-response acknowledgment.
type Escalation struct {
	ID          string           `json:"id"`
	DisasterID  string           `json:"disaster_id"`
	EscalatedBy string           `json:"escalated_by,omitempty"`
	Status      EscalationStatus `json:"status"`
	NotifiedAt  *time.Time       `json:"notified_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Subscription is a geo fan-out target keyed by connection id.
type Subscription struct {
	ConnectionID string    `json:"connection_id"`
	UserID       *string   `json:"user_id,omitempty"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	Guest        bool      `json:"guest"`
	UpdatedAt    time.Time `json:"updated_at"`
}
