package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"train-ticketing/models"
	"train-ticketing/policy"
)

// Refund returns a paid or issued ticket. The seat goes back to the ledger
// before the payment provider is called; if the provider declines, the seat
// is taken again and the ticket keeps its previous status.
func (s *TicketService) Refund(ctx context.Context, req models.RefundRequest) (*models.RefundResult, error) {
	unlock := s.locks.Lock(req.TicketID)
	defer unlock()

	ticket, err := s.deps.Store.GetTicket(ctx, req.TicketID)
	if err != nil {
		return nil, err
	}
	log := s.deps.Logger.WithFields(logrus.Fields{
		"ticket_id":   ticket.ID,
		"order_id":    ticket.OrderID,
		"schedule_id": ticket.ScheduleID,
		"fare_class":  ticket.FareClass,
	})

	if err := authorize(ctx, s.deps.Authz, policy.Request{
		UserID: req.UserID, Role: req.Role, Action: policy.ActionRefundTicket, OwnerID: ticket.UserID,
	}); err != nil {
		return nil, err
	}
	if !ticket.Status.Refundable() {
		return nil, fmt.Errorf("%w: ticket %s is %s and cannot be refunded", models.ErrStateConflict, ticket.ID, ticket.Status)
	}

	if err := s.refundHeld(context.WithoutCancel(ctx), log, ticket); err != nil {
		return nil, err
	}

	order, err := s.closeOrderIfRefunded(ctx, ticket.OrderID)
	if err != nil {
		log.WithError(err).Warn("Order of refunded ticket left open")
	}
	result := &models.RefundResult{
		TicketID: ticket.ID,
		Amount:   ticket.PricePaid,
		Status:   ticket.Status,
		OrderID:  ticket.OrderID,
		Message:  "Refund accepted, the amount will be returned to the original payment method",
	}
	if order != nil {
		result.OrderStatus = order.Status
	}

	log.WithField("amount", ticket.PricePaid.String()).Info("Ticket refunded")
	return result, nil
}

// refundHeld moves a seat-holding ticket through RefundPending. ticket is
// updated in place to the final status.
func (s *TicketService) refundHeld(ctx context.Context, log *logrus.Entry, ticket *models.Ticket) error {
	previous := ticket.Status
	if err := s.deps.Store.UpdateTicket(ctx, models.TicketTransition{
		TicketID: ticket.ID, From: previous, To: models.TicketRefundPending,
	}); err != nil {
		return err
	}
	ticket.Status = models.TicketRefundPending
	log.WithField("state", "refund_pending").Debug("Refund started")

	if err := s.deps.Ledger.Release(ctx, ticket.ScheduleID, ticket.FareClass, 1); err != nil {
		// The seat was never given back, so the ticket may keep it
		if uerr := s.deps.Store.UpdateTicket(ctx, models.TicketTransition{
			TicketID: ticket.ID, From: models.TicketRefundPending, To: previous,
		}); uerr != nil {
			return s.escalate(log, uerr, "ticket %s stuck in refund after release failed", ticket.ID)
		}
		ticket.Status = previous
		return fmt.Errorf("failed to release seat: %w", err)
	}

	return s.settleRefund(ctx, log, ticket, previous)
}

// settleRefund pays back a RefundPending ticket whose seat is already
// released. On a declined refund the seat is re-reserved and the ticket
// restored to restore.
func (s *TicketService) settleRefund(ctx context.Context, log *logrus.Entry, ticket *models.Ticket, restore models.TicketStatus) error {
	ok, err := s.refund(ctx, ticket.OrderID, ticket.PricePaid)
	if err == nil && ok {
		if uerr := s.deps.Store.UpdateTicket(ctx, models.TicketTransition{
			TicketID: ticket.ID, From: models.TicketRefundPending, To: models.TicketRefunded,
		}); uerr != nil {
			return s.escalate(log, uerr, "ticket %s was refunded but its status could not be saved", ticket.ID)
		}
		ticket.Status = models.TicketRefunded
		return nil
	}
	if err == nil {
		err = errors.New("refund declined")
	}
	log.WithError(err).WithField("state", "compensating").Warn("Refund failed, taking the seat back")

	reserved, rerr := s.deps.Ledger.TryReserve(ctx, ticket.ScheduleID, ticket.FareClass, 1)
	if rerr != nil || !reserved {
		if rerr == nil {
			rerr = errors.New("seat was sold to someone else")
		}
		return s.escalate(log, rerr, "refund of ticket %s failed and its seat could not be re-reserved", ticket.ID)
	}
	if uerr := s.deps.Store.UpdateTicket(ctx, models.TicketTransition{
		TicketID: ticket.ID, From: models.TicketRefundPending, To: restore,
	}); uerr != nil {
		return s.escalate(log, uerr, "ticket %s re-reserved but its status could not be restored", ticket.ID)
	}
	ticket.Status = restore
	return fmt.Errorf("%w: ticket %s: %v", models.ErrRefundProcessingFailed, ticket.ID, err)
}

// closeOrderIfRefunded cancels an order once every one of its tickets is refunded
func (s *TicketService) closeOrderIfRefunded(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.deps.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	tickets, err := s.deps.Store.ListTicketsByOrder(ctx, orderID)
	if err != nil {
		return order, err
	}
	for _, t := range tickets {
		if t.Status != models.TicketRefunded {
			return order, nil
		}
	}
	if order.Status == models.OrderCancelled {
		return order, nil
	}

	if err := s.deps.Store.UpdateOrder(ctx, models.OrderTransition{
		OrderID: order.ID, From: order.Status, To: models.OrderCancelled, Payment: models.PaymentRefunded,
	}); err != nil {
		return order, err
	}
	order.Status, order.PaymentStatus = models.OrderCancelled, models.PaymentRefunded
	return order, nil
}
