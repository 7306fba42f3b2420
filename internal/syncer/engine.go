// Package syncer reconciles remote ticket state into the local workflow
// store, from webhook events and from periodic full pulls.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bridge/internal/domain"
	"github.com/spec-kit/ticket-bridge/internal/events"
	"github.com/spec-kit/ticket-bridge/internal/observability"
	"github.com/spec-kit/ticket-bridge/internal/stepmap"
	"github.com/spec-kit/ticket-bridge/internal/store"
	util "github.com/spec-kit/ticket-bridge/pkg/util"
)

// Engine is the reconciliation state machine. Both entry points, one
// ticket from a webhook event or the full remote set from polling,
// converge on the same compare-and-move logic. Mutations for one client
// id are serialized through a keyed mutex so the two paths cannot race
// on the same ticket.
type Engine struct {
	store   store.GraphStore
	mapping *stepmap.Mapping
	process string
	logger  *zap.Logger
	metrics *observability.Metrics
	locks   *keyedMutex
}

// NewEngine constructs the engine for one workflow process.
func NewEngine(graphStore store.GraphStore, mapping *stepmap.Mapping, process string, logger *zap.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		store:   graphStore,
		mapping: mapping,
		process: process,
		logger:  logger,
		metrics: metrics,
		locks:   newKeyedMutex(),
	}
}

// RegisterHandlers subscribes the engine to ticket events on the bus.
func (e *Engine) RegisterHandlers(bus events.Dispatcher) {
	bus.Subscribe(domain.EventCreateTicket, e.HandleCreate)
	bus.Subscribe(domain.EventUpdateTicket, e.HandleUpdate)
	bus.Subscribe(domain.EventDeleteTicket, e.HandleDelete)
}

// HandleCreate processes a CREATE_TICKET delivery carrying the full
// remote ticket.
func (e *Engine) HandleCreate(ctx context.Context, evt events.Event) error {
	var remote domain.RemoteTicket
	if err := json.Unmarshal(evt.Payload.Data, &remote); err != nil {
		e.metrics.RecordReconcile("failed")
		return fmt.Errorf("decode CREATE_TICKET data for delivery %s: %w", evt.DeliveryID, err)
	}
	if remote.ID == "" {
		remote.ID = evt.Payload.Ticket
	}
	if remote.ID == "" {
		e.metrics.RecordReconcile("failed")
		return fmt.Errorf("CREATE_TICKET delivery %s carries no ticket id", evt.DeliveryID)
	}

	if err := e.reconcileRemote(ctx, remote); err != nil {
		e.metrics.RecordReconcile("failed")
		return err
	}
	e.metrics.MarkSync(time.Now())
	return nil
}

// HandleUpdate processes an UPDATE_TICKET delivery carrying a partial
// delta. Only lifecycle-relevant changes matter: a delta without a
// status field is a no-op, and updates never create tickets (the delta
// is not a full object).
func (e *Engine) HandleUpdate(ctx context.Context, evt events.Event) error {
	var delta domain.TicketDelta
	if err := json.Unmarshal(evt.Payload.Data, &delta); err != nil {
		e.metrics.RecordReconcile("failed")
		return fmt.Errorf("decode UPDATE_TICKET data for delivery %s: %w", evt.DeliveryID, err)
	}
	if !delta.Status.HasValue() {
		e.logger.Debug("no status change in delta, skipping",
			zap.String("delivery_id", evt.DeliveryID),
			zap.String("client_id", evt.Payload.Ticket))
		return nil
	}

	clientID := evt.Payload.Ticket
	if clientID == "" {
		e.metrics.RecordReconcile("failed")
		return fmt.Errorf("UPDATE_TICKET delivery %s carries no ticket id", evt.DeliveryID)
	}

	unlock := e.locks.Lock(clientID)
	defer unlock()

	local, err := e.store.FindTicketByClientID(ctx, e.process, clientID)
	if err != nil {
		e.metrics.RecordReconcile("failed")
		return util.NewStoreUnavailable(err)
	}
	if local == nil {
		e.metrics.RecordReconcile("failed")
		return util.NewTicketNotFound(clientID)
	}

	if err := e.moveToStatus(ctx, local, delta.Status.Value); err != nil {
		e.metrics.RecordReconcile("failed")
		return err
	}
	e.metrics.MarkSync(time.Now())
	return nil
}

// HandleDelete acknowledges DELETE_TICKET deliveries. Local ticket
// history belongs to the workflow store, so remote deletion does not
// remove anything here.
func (e *Engine) HandleDelete(_ context.Context, evt events.Event) error {
	e.logger.Info("remote ticket deleted, keeping local record",
		zap.String("delivery_id", evt.DeliveryID),
		zap.String("client_id", evt.Payload.Ticket))
	return nil
}

// ReconcileAll runs the bulk catch-up pass over the full remote ticket
// set, in input order. Tickets are independent: one failure is logged
// and the pass continues.
func (e *Engine) ReconcileAll(ctx context.Context, remotes []domain.RemoteTicket) {
	for _, remote := range remotes {
		if err := e.reconcileRemote(ctx, remote); err != nil {
			e.metrics.RecordReconcile("failed")
			e.logger.Error("ticket reconciliation failed",
				zap.String("client_id", remote.ID),
				zap.Error(err))
		}
	}
	e.metrics.MarkSync(time.Now())
}

// reconcileRemote converges one remote ticket: create it when absent,
// otherwise compare steps and apply at most one move. Running it twice
// with the same input changes nothing the second time.
func (e *Engine) reconcileRemote(ctx context.Context, remote domain.RemoteTicket) error {
	unlock := e.locks.Lock(remote.ID)
	defer unlock()

	local, err := e.store.FindTicketByClientID(ctx, e.process, remote.ID)
	if err != nil {
		return util.NewStoreUnavailable(err)
	}

	if local == nil {
		return e.createFromRemote(ctx, remote)
	}
	if remote.Status == "" {
		e.logger.Debug("remote ticket carries no status, skipping",
			zap.String("client_id", remote.ID))
		return nil
	}
	return e.moveToStatus(ctx, local, remote.Status)
}

// createFromRemote creates the local ticket and lands it in the step
// derived from the remote status. Creation puts the ticket in NEW; an
// unset or unknown status leaves it there.
func (e *Engine) createFromRemote(ctx context.Context, remote domain.RemoteTicket) error {
	created, err := e.store.CreateTicket(ctx, e.process, domain.Ticket{
		ClientID:     remote.ID,
		ClientNumber: remote.Number,
		Title:        remote.Title,
		Description:  remote.Description,
		Location:     remote.Location.String(),
		CreatedAt:    remote.CreatedAt,
	})
	if err != nil {
		return util.NewStoreUnavailable(err)
	}
	e.metrics.RecordReconcile("created")
	e.logger.Info("ticket created",
		zap.String("client_id", remote.ID),
		zap.String("ticket_id", created.ID),
		zap.String("title", remote.Title))

	target := domain.StepNew
	if remote.Status != "" {
		step, ok := e.mapping.ProviderToCanonical(remote.Status)
		if !ok {
			e.logger.Warn("unknown provider status at creation, leaving ticket in NEW",
				zap.String("client_id", remote.ID),
				zap.String("status", remote.Status))
			return nil
		}
		target = step
	}
	if target == domain.StepNew {
		return nil
	}

	if err := e.store.MoveTicket(ctx, created.ID, domain.StepNew, target); err != nil {
		return util.NewStoreUnavailable(err)
	}
	e.metrics.RecordReconcile("moved")
	e.logger.Info("ticket moved",
		zap.String("client_id", remote.ID),
		zap.String("from", string(domain.StepNew)),
		zap.String("to", string(target)))
	return nil
}

// moveToStatus applies at most one step transition to an existing
// ticket. An unknown provider status is a reconciliation error, never a
// silent default; a matching step is an idempotent no-op.
func (e *Engine) moveToStatus(ctx context.Context, local *domain.Ticket, providerStatus string) error {
	target, ok := e.mapping.ProviderToCanonical(providerStatus)
	if !ok {
		return util.NewStepMappingUnknown(providerStatus)
	}

	current, err := e.store.GetCurrentStep(ctx, local.ID)
	if err != nil {
		return util.NewStoreUnavailable(err)
	}
	if current == target {
		e.metrics.RecordReconcile("skipped")
		e.logger.Debug("ticket already in target step",
			zap.String("client_id", local.ClientID),
			zap.String("step", string(current)))
		return nil
	}

	if err := e.store.MoveTicket(ctx, local.ID, current, target); err != nil {
		return util.NewStoreUnavailable(err)
	}
	e.metrics.RecordReconcile("moved")
	e.logger.Info("ticket moved",
		zap.String("client_id", local.ClientID),
		zap.String("from", string(current)),
		zap.String("to", string(target)))
	return nil
}
