// Package store defines the narrow contract this service has with the
// external workflow store that owns ticket records and step membership.
package store

import (
	"context"

	"github.com/spec-kit/ticket-bridge/internal/domain"
)

// GraphStore is the collaborator contract. Tickets are opaque entities
// owned by the store; this service only creates them under a process,
// reads their attributes, and moves them between steps.
type GraphStore interface {
	// FindTicketByClientID returns the local ticket joined to the given
	// provider ticket id, or (nil, nil) when none exists.
	FindTicketByClientID(ctx context.Context, process, clientID string) (*domain.Ticket, error)

	// CreateTicket creates a ticket under the process. New tickets land
	// in the process's first step (NEW).
	CreateTicket(ctx context.Context, process string, ticket domain.Ticket) (*domain.Ticket, error)

	// GetCurrentStep returns the single step the ticket belongs to.
	GetCurrentStep(ctx context.Context, ticketID string) (domain.Step, error)

	// MoveTicket atomically moves the ticket's membership from one step
	// to another. It fails when the ticket is not currently in from.
	MoveTicket(ctx context.Context, ticketID string, from, to domain.Step) error

	// ListStepsForProcess returns the process's steps in workflow order.
	ListStepsForProcess(ctx context.Context, process string) ([]domain.Step, error)
}
