package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"train-ticketing/models"
	"train-ticketing/policy"
)

// Change rebooks a ticket onto another schedule or class. The new seat is
// reserved and paid for before the old ticket is touched, so a failed
// change leaves the original booking exactly as it was.
func (s *TicketService) Change(ctx context.Context, req models.ChangeRequest) (*models.ChangeResult, error) {
	unlock := s.locks.Lock(req.TicketID)
	defer unlock()

	old, err := s.deps.Store.GetTicket(ctx, req.TicketID)
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, s.deps.Authz, policy.Request{
		UserID: req.UserID, Action: policy.ActionChangeTicket, OwnerID: old.UserID,
	}); err != nil {
		return nil, err
	}
	if !old.Status.Changeable() {
		return nil, fmt.Errorf("%w: ticket %s is %s and cannot be changed", models.ErrStateConflict, old.ID, old.Status)
	}

	class, err := models.ParseFareClass(string(req.NewFareClass))
	if err != nil {
		return nil, err
	}
	if req.NewScheduleID == old.ScheduleID && class == old.FareClass {
		return nil, fmt.Errorf("%w: ticket %s is already on %s %s", models.ErrInvalidArgument, old.ID, req.NewScheduleID, class)
	}
	schedule, err := s.deps.Schedules.GetSchedule(ctx, req.NewScheduleID)
	if err != nil {
		return nil, err
	}
	if err := schedule.Bookable(s.now()); err != nil {
		return nil, err
	}
	price, offered, err := s.deps.Schedules.PriceOf(ctx, schedule.ID, class)
	if err != nil {
		return nil, err
	}
	if !offered {
		return nil, fmt.Errorf("%w: %s is not sold on schedule %s", models.ErrInvalidArgument, class, schedule.ID)
	}
	delta := price - old.PricePaid

	log := s.deps.Logger.WithFields(logrus.Fields{
		"ticket_id":   old.ID,
		"schedule_id": schedule.ID,
		"fare_class":  class,
		"delta":       delta.String(),
	})
	log.WithField("state", "reserving").Debug("Change started")

	reserved, err := s.deps.Ledger.TryReserve(ctx, schedule.ID, class, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve seat: %w", err)
	}
	if !reserved {
		return nil, fmt.Errorf("%w: no %s seats left on schedule %s", models.ErrInsufficientInventory, class, schedule.ID)
	}
	cctx := context.WithoutCancel(ctx)

	charge := delta
	if charge < 0 {
		charge = 0
	}
	order := &models.Order{
		ID:              s.newID(),
		UserID:          old.UserID,
		Type:            models.OrderChange,
		TotalAmount:     charge,
		PaymentStatus:   models.PaymentUnpaid,
		Status:          models.OrderProcessing,
		OriginalOrderID: old.OrderID,
	}
	ticket := &models.Ticket{
		ID:            s.newID(),
		UserID:        old.UserID,
		OrderID:       order.ID,
		ScheduleID:    schedule.ID,
		PassengerID:   old.PassengerID,
		PassengerName: old.PassengerName,
		FareClass:     class,
		PricePaid:     price,
		Status:        models.TicketUnpaid,
		RebookedFrom:  old.ID,
	}
	log = log.WithFields(logrus.Fields{"order_id": order.ID, "new_ticket_id": ticket.ID})

	if err := s.createRecords(cctx, log, order, ticket); err != nil {
		return nil, err
	}

	if charge > 0 {
		log.WithField("state", "awaiting_payment").Debug("Charging fare difference")
		paid, err := s.charge(ctx, order.ID, charge)
		if err != nil || !paid {
			log.WithError(err).WithField("state", "compensating").Warn("Fare difference not paid, cancelling change")
			if err != nil {
				s.voidCharge(cctx, log, order.ID, charge)
			}
			if cerr := s.cancelUnpaid(cctx, log, order, ticket); cerr != nil {
				return nil, cerr
			}
			return nil, fmt.Errorf("%w: change of ticket %s was cancelled", models.ErrPaymentFailed, old.ID)
		}
	}

	log.WithField("state", "committing").Debug("Swapping tickets")
	if err := s.revalidate(cctx, schedule.ID); err != nil {
		log.WithError(err).WithField("state", "compensating").Warn("Target schedule no longer bookable")
		return nil, s.unwindPaid(cctx, log, order, ticket, charge, err)
	}
	if err := s.deps.Store.UpdateTicket(cctx, models.TicketTransition{
		TicketID: old.ID, From: old.Status, To: models.TicketRebooked,
	}); err != nil {
		log.WithError(err).WithField("state", "compensating").Warn("Original ticket could not be retired")
		return nil, s.unwindPaid(cctx, log, order, ticket, charge, err)
	}
	// The old ticket no longer holds its seat; any failure past this point
	// is a consistency problem rather than a rollback.
	if err := s.deps.Ledger.Release(cctx, old.ScheduleID, old.FareClass, 1); err != nil {
		return nil, s.escalate(log, err, "seat of rebooked ticket %s could not be released", old.ID)
	}
	if err := s.issue(cctx, order, ticket, ticket.SettledStatus()); err != nil {
		return nil, s.escalate(log, err, "replacement ticket %s could not be issued", ticket.ID)
	}

	result := &models.ChangeResult{
		OldTicketID:     old.ID,
		NewTicket:       ticket,
		Order:           order,
		PriceDifference: delta,
		Message:         "Ticket changed",
	}

	if delta < 0 {
		ok, err := s.refund(cctx, old.OrderID, delta.Abs())
		if err != nil || !ok {
			log.WithError(err).Warn("Fare difference could not be refunded")
			result.RefundFailed = true
			result.Message = "Ticket changed, the fare difference refund is pending"
		}
	}

	log.WithFields(logrus.Fields{"state": "completed", "seat": ticket.SeatNumber}).
		Infof("Ticket changed: %s -> %s", old.ID, ticket.ID)
	return result, nil
}
