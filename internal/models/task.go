package models

import "time"

type TaskStatus string

const (
	TaskOpen      TaskStatus = "open"
	TaskClaimed   TaskStatus = "claimed"
	TaskSubmitted TaskStatus = "submitted"
	TaskApproved  TaskStatus = "approved"
	TaskRejected  TaskStatus = "rejected"
	TaskExpired   TaskStatus = "expired"
)

// Task is an admin-defined unit of work claimable by one volunteer.
type Task struct {
	ID          string     `json:"id"`
	DisasterID  string     `json:"disaster_id"`
	AssignedTo  *string    `json:"assigned_to,omitempty"`
	Kind        string     `json:"kind"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Proof       string     `json:"proof,omitempty"`
	Feedback    string     `json:"feedback,omitempty"`
	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AssignedVolunteer returns the claiming volunteer or "".
func (t Task) AssignedVolunteer() string {
	if t.AssignedTo == nil {
		return ""
	}
	return *t.AssignedTo
}
