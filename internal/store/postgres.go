package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-bridge/internal/domain"
)

// PostgresStore implements the GraphStore contract on a relational
// schema: one row per ticket node, one membership row per ticket
// enforcing the exactly-one-step invariant.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore instantiates the adapter.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureProcess registers a workflow process and its three steps. Safe
// to call repeatedly; existing rows are left untouched.
func (s *PostgresStore) EnsureProcess(ctx context.Context, process string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO workflow_processes (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`,
		process,
	); err != nil {
		return err
	}
	for order, step := range domain.Steps() {
		if _, err := tx.Exec(ctx,
			`INSERT INTO workflow_steps (process, step, step_order) VALUES ($1,$2,$3)
             ON CONFLICT (process, step) DO NOTHING`,
			process, step, order,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) FindTicketByClientID(ctx context.Context, process, clientID string) (*domain.Ticket, error) {
	const query = `
        SELECT t.id, t.client_id, t.client_number, t.title, t.description, t.location, t.created_at, m.step
        FROM ticket_nodes t
        JOIN step_membership m ON m.ticket_id = t.id
        WHERE t.process = $1 AND t.client_id = $2`
	var ticket domain.Ticket
	err := s.pool.QueryRow(ctx, query, process, clientID).Scan(
		&ticket.ID,
		&ticket.ClientID,
		&ticket.ClientNumber,
		&ticket.Title,
		&ticket.Description,
		&ticket.Location,
		&ticket.CreatedAt,
		&ticket.Step,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (s *PostgresStore) CreateTicket(ctx context.Context, process string, ticket domain.Ticket) (*domain.Ticket, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	ticket.ID = uuid.NewString()
	ticket.Step = domain.StepNew

	const insertNode = `
        INSERT INTO ticket_nodes (id, process, client_id, client_number, title, description, location, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	if _, err := tx.Exec(ctx, insertNode,
		ticket.ID,
		process,
		ticket.ClientID,
		ticket.ClientNumber,
		ticket.Title,
		ticket.Description,
		ticket.Location,
		ticket.CreatedAt,
	); err != nil {
		return nil, err
	}

	const insertMembership = `INSERT INTO step_membership (ticket_id, step) VALUES ($1,$2)`
	if _, err := tx.Exec(ctx, insertMembership, ticket.ID, ticket.Step); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (s *PostgresStore) GetCurrentStep(ctx context.Context, ticketID string) (domain.Step, error) {
	var step domain.Step
	err := s.pool.QueryRow(ctx,
		`SELECT step FROM step_membership WHERE ticket_id = $1`, ticketID,
	).Scan(&step)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("ticket %s has no step membership", ticketID)
	}
	if err != nil {
		return "", err
	}
	return step, nil
}

// MoveTicket updates the membership row conditioned on the expected
// current step, so a concurrent move cannot be silently overwritten and
// the ticket is never observable in zero or two steps.
func (s *PostgresStore) MoveTicket(ctx context.Context, ticketID string, from, to domain.Step) error {
	cmd, err := s.pool.Exec(ctx,
		`UPDATE step_membership SET step = $1, moved_at = NOW() WHERE ticket_id = $2 AND step = $3`,
		to, ticketID, from,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("ticket %s is not in step %s", ticketID, from)
	}
	return nil
}

func (s *PostgresStore) ListStepsForProcess(ctx context.Context, process string) ([]domain.Step, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT step FROM workflow_steps WHERE process = $1 ORDER BY step_order`, process)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []domain.Step
	for rows.Next() {
		var step domain.Step
		if err := rows.Scan(&step); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}
