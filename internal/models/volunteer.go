package models

import "time"

type Role string

const (
	RoleVolunteer Role = "volunteer"
	RoleAdmin     Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleVolunteer || r == RoleAdmin
}

// Reputation is embedded in the volunteer profile.
type Reputation struct {
	Points     int        `json:"points"`
	Deductions int        `json:"deductions"`
	Banned     bool       `json:"banned"`
	BanReason  string     `json:"ban_reason,omitempty"`
	BannedAt   *time.Time `json:"banned_at,omitempty"`
}

type Volunteer struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Role       Role       `json:"role"`
	Reputation Reputation `json:"reputation"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Identity is the authenticated actor behind a request or connection.
type Identity struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
