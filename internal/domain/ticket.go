package domain

import "time"

// Ticket is the local workflow record mirroring one provider ticket.
// ClientID is the provider ticket id and the join key between the two
// systems; it never changes after creation.
type Ticket struct {
	ID           string
	ClientID     string
	ClientNumber int
	Title        string
	Description  string
	Location     string
	CreatedAt    time.Time
	Step         Step
}
