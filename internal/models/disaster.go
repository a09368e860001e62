package models

import (
	"fmt"
	"time"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// Lower returns the next lower severity, bottoming out at low.
func (s Severity) Lower() Severity {
	switch s {
	case SeverityHigh:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

type Source string

const (
	SourceManual   Source = "manual"
	SourceAI       Source = "ai"
	SourceExternal Source = "external"
)

func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceAI, SourceExternal:
		return true
	}
	return false
}

type DisasterStatus string

const (
	DisasterActive   DisasterStatus = "active"
	DisasterResolved DisasterStatus = "resolved"
	DisasterArchived DisasterStatus = "archived"
)

func (s DisasterStatus) Valid() bool {
	switch s {
	case DisasterActive, DisasterResolved, DisasterArchived:
		return true
	}
	return false
}

// Location is where a disaster happened. Coordinates are optional when city and state are known.
type Location struct {
	City  string   `json:"city"`
	State string   `json:"state"`
	Lat   *float64 `json:"lat,omitempty"`
	Lng   *float64 `json:"lng,omitempty"`
}

func (l Location) HasCoordinates() bool {
	return l.Lat != nil && l.Lng != nil
}

// Room is the location room key clients join with join_location.
func (l Location) Room() string {
	if l.City == "" || l.State == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", normalize(l.City), normalize(l.State))
}

type Disaster struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Location   Location       `json:"location"`
	Severity   Severity       `json:"severity"`
	Source     Source         `json:"source"`
	Status     DisasterStatus `json:"status"`
	ReporterID string         `json:"reporter_id,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
