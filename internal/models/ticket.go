package models

import "time"

type TicketStatus string

const (
	TicketSignedUp TicketStatus = "signed_up"
	TicketPending  TicketStatus = "pending"
	TicketVerified TicketStatus = "verified"
	TicketRejected TicketStatus = "rejected"
	TicketExpired  TicketStatus = "expired"
)

// Active reports whether the ticket still blocks a new sign-up for the same disaster.
func (s TicketStatus) Active() bool {
	return s == TicketSignedUp || s == TicketPending
}

// HelpTicket is a volunteer's time-bounded commitment to respond to a disaster.
type HelpTicket struct {
	ID            string       `json:"id"`
	VolunteerID   string       `json:"volunteer_id"`
	DisasterID    string       `json:"disaster_id"`
	Status        TicketStatus `json:"status"`
	SignedUp      bool         `json:"signed_up"`
	SignedUpAt    time.Time    `json:"signed_up_at"`
	ExpiresAt     time.Time    `json:"expires_at"`
	Quantity      int          `json:"quantity"`
	Proofs        []string     `json:"proofs"`
	ScoreDeducted bool         `json:"score_deducted"`
	VerifiedBy    string       `json:"verified_by,omitempty"`
	VerifiedAt    *time.Time   `json:"verified_at,omitempty"`
}
