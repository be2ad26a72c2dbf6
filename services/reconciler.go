package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"train-ticketing/models"
)

// SweepReport counts what one reconciliation pass did
type SweepReport struct {
	Cancelled int `json:"cancelled"`
	Resumed   int `json:"resumed"`
	Refunded  int `json:"refunded"`
	Restored  int `json:"restored"`
	Failed    int `json:"failed"`
}

// Reconciler resolves tickets left in a transitional status, for example
// by a crash between reserving a seat and settling the payment
type Reconciler struct {
	tickets    *TicketService
	staleAfter time.Duration
}

// NewReconciler creates a reconciler for tickets untouched for staleAfter.
// staleAfter must be longer than the payment timeout.
func NewReconciler(tickets *TicketService, staleAfter time.Duration) *Reconciler {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &Reconciler{tickets: tickets, staleAfter: staleAfter}
}

// Run sweeps every interval until ctx is done
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	logger := r.tickets.deps.Logger
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.WithField("interval", interval.String()).Info("Reconciler started")
	for {
		select {
		case <-ctx.Done():
			logger.Info("Reconciler stopped")
			return
		case <-ticker.C:
			report, err := r.Sweep(ctx)
			if err != nil {
				logger.WithError(err).Error("Reconciliation sweep failed")
				continue
			}
			if report != (SweepReport{}) {
				logger.WithFields(logrus.Fields{
					"cancelled": report.Cancelled,
					"resumed":   report.Resumed,
					"refunded":  report.Refunded,
					"restored":  report.Restored,
					"failed":    report.Failed,
				}).Info("Reconciliation sweep finished")
			}
		}
	}
}

// Sweep resolves every stale Unpaid and RefundPending ticket once
func (r *Reconciler) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	s := r.tickets
	cutoff := s.now().Add(-r.staleAfter)

	unpaid, err := s.deps.Store.ListTicketsByStatus(ctx, models.TicketUnpaid, cutoff)
	if err != nil {
		return report, err
	}
	for i := range unpaid {
		ticket := &unpaid[i]
		if ticket.RebookedFrom != "" {
			resumed, err := r.resumeChange(ctx, ticket)
			if err != nil {
				report.Failed++
				continue
			}
			if resumed {
				report.Resumed++
				continue
			}
		}
		cancelled, err := r.expireUnpaid(ctx, ticket)
		if err != nil {
			report.Failed++
			continue
		}
		if cancelled {
			report.Cancelled++
		}
	}

	pending, err := s.deps.Store.ListTicketsByStatus(ctx, models.TicketRefundPending, cutoff)
	if err != nil {
		return report, err
	}
	for i := range pending {
		switch err := r.retryRefund(ctx, &pending[i]); {
		case err == nil:
			report.Refunded++
		case errors.Is(err, models.ErrRefundProcessingFailed):
			report.Restored++
		default:
			report.Failed++
		}
	}
	return report, nil
}

// expireUnpaid cancels a ticket whose purchase never settled. It reports
// false when the ticket had already moved on.
func (r *Reconciler) expireUnpaid(ctx context.Context, ticket *models.Ticket) (bool, error) {
	s := r.tickets
	log := s.deps.Logger.WithFields(logrus.Fields{
		"ticket_id": ticket.ID,
		"order_id":  ticket.OrderID,
		"reconcile": true,
	})

	if err := s.deps.Store.UpdateTicket(ctx, models.TicketTransition{
		TicketID: ticket.ID, From: models.TicketUnpaid, To: models.TicketCancelled,
	}); err != nil {
		// The workflow finished it first
		log.WithError(err).Debug("Stale ticket already moved on")
		return false, nil
	}
	if err := s.deps.Ledger.Release(ctx, ticket.ScheduleID, ticket.FareClass, 1); err != nil {
		return false, s.escalate(log, err, "seat of expired ticket %s could not be released", ticket.ID)
	}

	order, err := s.deps.Store.GetOrder(ctx, ticket.OrderID)
	if err != nil {
		return false, s.escalate(log, err, "order of expired ticket %s could not be read", ticket.ID)
	}
	if order.Status == models.OrderProcessing {
		if err := s.deps.Store.UpdateOrder(ctx, models.OrderTransition{
			OrderID: order.ID, From: models.OrderProcessing, To: models.OrderCancelled, Payment: models.PaymentFailed,
		}); err != nil {
			return false, s.escalate(log, err, "order %s of expired ticket could not be cancelled", order.ID)
		}
	}
	if order.TotalAmount > 0 {
		s.voidCharge(ctx, log, order.ID, order.TotalAmount)
	}

	log.Info("Expired unpaid ticket cancelled")
	return true, nil
}

// resumeChange finishes a change that retired the original ticket but
// stopped before issuing its replacement. The fare difference was already
// collected and the replacement still holds its seat, so the change is
// completed rather than cancelled. It reports false when the original
// ticket is still live, leaving the replacement to expire.
func (r *Reconciler) resumeChange(ctx context.Context, ticket *models.Ticket) (bool, error) {
	s := r.tickets
	unlock := s.locks.Lock(ticket.RebookedFrom)
	defer unlock()

	old, err := s.deps.Store.GetTicket(ctx, ticket.RebookedFrom)
	if err != nil {
		return false, err
	}
	if old.Status != models.TicketRebooked {
		return false, nil
	}
	current, err := s.deps.Store.GetTicket(ctx, ticket.ID)
	if err != nil {
		return false, err
	}
	if current.Status != models.TicketUnpaid {
		return false, nil
	}
	log := s.deps.Logger.WithFields(logrus.Fields{
		"ticket_id":     old.ID,
		"new_ticket_id": current.ID,
		"order_id":      current.OrderID,
		"reconcile":     true,
	})

	order, err := s.deps.Store.GetOrder(ctx, current.OrderID)
	if err != nil {
		return false, s.escalate(log, err, "order of replacement ticket %s could not be read", current.ID)
	}
	if err := s.issue(ctx, order, current, current.SettledStatus()); err != nil {
		return false, s.escalate(log, err, "replacement ticket %s could not be issued", current.ID)
	}

	if diff := old.PricePaid - current.PricePaid; diff > 0 {
		ok, err := s.refund(ctx, old.OrderID, diff)
		if err != nil || !ok {
			log.WithError(err).Warn("Fare difference could not be refunded")
		}
	}

	log.WithField("seat", current.SeatNumber).Info("Interrupted change completed")
	return true, nil
}

// retryRefund settles a ticket stuck in RefundPending. Its seat was
// released when the refund began.
func (r *Reconciler) retryRefund(ctx context.Context, ticket *models.Ticket) error {
	s := r.tickets
	unlock := s.locks.Lock(ticket.ID)
	defer unlock()

	current, err := s.deps.Store.GetTicket(ctx, ticket.ID)
	if err != nil {
		return err
	}
	if current.Status != models.TicketRefundPending {
		return nil
	}
	log := s.deps.Logger.WithFields(logrus.Fields{
		"ticket_id": current.ID,
		"order_id":  current.OrderID,
		"reconcile": true,
	})

	if err := s.settleRefund(ctx, log, current, current.SettledStatus()); err != nil {
		return err
	}
	if _, err := s.closeOrderIfRefunded(ctx, current.OrderID); err != nil {
		log.WithError(err).Warn("Order of refunded ticket left open")
	}
	log.Info("Pending refund settled")
	return nil
}
