package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Real-time channel event names.
const (
	EventNewDisasterAlert     = "new_disaster_alert"
	EventLocalDisasterAlert   = "local_disaster_alert"
	EventExtremeDisasterAlert = "extreme_disaster_alert"
	EventCRPFNotification     = "crpf_notification"
	EventPointsUpdated        = "points_updated"
	EventTaskSubmitted        = "task_submitted"
	EventTaskApproved         = "task_approved"
	EventTaskRejected         = "task_rejected"
	EventNotification         = "notification"

	EventConnected = "connected"
	EventJoined    = "joined"
	EventError     = "error"
)

// Event is one of the payload variants carried on the real-time channel.
type Event interface {
	EventName() string
}

// DisasterAlert is sent as either the general or the local variant.
type DisasterAlert struct {
	Local      bool      `json:"local"`
	DisasterID string    `json:"disaster_id"`
	Type       string    `json:"type"`
	Location   Location  `json:"location"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	Advisory   string    `json:"advisory"`
	ReportedAt time.Time `json:"reported_at"`
}

func (a DisasterAlert) EventName() string {
	if a.Local {
		return EventLocalDisasterAlert
	}
	return EventNewDisasterAlert
}

// ExtremeAlert goes to the admin room for high-severity disasters.
type ExtremeAlert struct {
	EscalationID string   `json:"escalation_id"`
	DisasterID   string   `json:"disaster_id"`
	Type         string   `json:"type"`
	Location     Location `json:"location"`
	Status       string   `json:"status"`
	Message      string   `json:"message"`
}

func (ExtremeAlert) EventName() string { return EventExtremeDisasterAlert }

// CRPFNotice is the public broadcast naming the responding units.
type CRPFNotice struct {
	DisasterID string   `json:"disaster_id"`
	Type       string   `json:"type"`
	Location   Location `json:"location"`
	Units      []string `json:"units"`
	Message    string   `json:"message"`
}

func (CRPFNotice) EventName() string { return EventCRPFNotification }

// PointsUpdate tells a volunteer their balance changed.
type PointsUpdate struct {
	VolunteerID string `json:"volunteer_id"`
	Delta       int    `json:"delta"`
	Points      int    `json:"points"`
	Reason      string `json:"reason"`
}

func (PointsUpdate) EventName() string { return EventPointsUpdated }

// NotificationEvent pushes an administrator notification to its recipient room.
type NotificationEvent struct {
	NotificationID string    `json:"notification_id"`
	Recipient      string    `json:"recipient"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}

func (NotificationEvent) EventName() string { return EventNotification }

// TaskEvent reports a task transition to the interested room.
type TaskEvent struct {
	Name        string     `json:"-"`
	TaskID      string     `json:"task_id"`
	DisasterID  string     `json:"disaster_id"`
	VolunteerID string     `json:"volunteer_id"`
	Status      TaskStatus `json:"status"`
	Feedback    string     `json:"feedback,omitempty"`
}

func (e TaskEvent) EventName() string { return e.Name }

// Connected greets a new connection with its id and initial rooms.
type Connected struct {
	ConnectionID string   `json:"connection_id"`
	Rooms        []string `json:"rooms"`
}

func (Connected) EventName() string { return EventConnected }

// Joined acknowledges an inbound join_location or subscribe message.
type Joined struct {
	Room         string  `json:"room,omitempty"`
	Lat          float64 `json:"lat,omitempty"`
	Lng          float64 `json:"lng,omitempty"`
	Unsubscribed bool    `json:"unsubscribed,omitempty"`
}

func (Joined) EventName() string { return EventJoined }

// ErrorNotice reports a rejected inbound message.
type ErrorNotice struct {
	Message string `json:"message"`
}

func (ErrorNotice) EventName() string { return EventError }

// Envelope is the encoded form of an Event as written to a connection.
type Envelope struct {
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	SentAt time.Time       `json:"sent_at"`
}

// NewEnvelope encodes ev for delivery.
func NewEnvelope(ev Event, at time.Time) (Envelope, error) {
	if ev.EventName() == "" {
		return Envelope{}, fmt.Errorf("event %T has no name", ev)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s: %w", ev.EventName(), err)
	}
	return Envelope{Event: ev.EventName(), Data: data, SentAt: at}, nil
}
