package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"train-ticketing/keylock"
	"train-ticketing/models"
	"train-ticketing/policy"
)

// TicketConfig bounds the calls made to external gateways
type TicketConfig struct {
	PaymentTimeout  time.Duration
	IdentityTimeout time.Duration
}

// TicketDeps are the collaborators of TicketService
type TicketDeps struct {
	Schedules  ScheduleLookup
	Ledger     SeatLedger
	Identity   IdentityGateway
	Payments   PaymentGateway
	Store      OrderTicketStore
	Passengers PassengerDirectory
	Authz      Authorizer
	Seats      *SeatAssigner
	Logger     *logrus.Logger
}

// TicketService runs the purchase, refund and change workflows. No lock is
// held across a gateway call: the ledger serializes seat counts per cell
// and the per-ticket lock serializes workflows on one ticket.
type TicketService struct {
	deps  TicketDeps
	cfg   TicketConfig
	locks keylock.Map
	now   func() time.Time
	newID func() string
}

// NewTicketService wires the engine
func NewTicketService(deps TicketDeps, cfg TicketConfig) *TicketService {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Seats == nil {
		deps.Seats = NewSeatAssigner()
	}
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = 5 * time.Second
	}
	if cfg.IdentityTimeout <= 0 {
		cfg.IdentityTimeout = 2 * time.Second
	}
	return &TicketService{
		deps:  deps,
		cfg:   cfg,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

type gatewayResult struct {
	ok  bool
	err error
}

// callGateway runs call with a deadline. The call runs on its own goroutine
// so a gateway that ignores its context still cannot stall the workflow.
func callGateway(ctx context.Context, timeout time.Duration, call func(context.Context) (bool, error)) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan gatewayResult, 1)
	go func() {
		ok, err := call(ctx)
		done <- gatewayResult{ok: ok, err: err}
	}()

	select {
	case r := <-done:
		return r.ok, r.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func authorize(ctx context.Context, authz Authorizer, req policy.Request) error {
	ok, err := authz.Allowed(ctx, req)
	if err != nil {
		return fmt.Errorf("authorization check failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s is not permitted for user %q", models.ErrUnauthorized, req.Action, req.UserID)
	}
	return nil
}

func (s *TicketService) charge(ctx context.Context, reference string, amount models.Money) (bool, error) {
	return callGateway(ctx, s.cfg.PaymentTimeout, func(ctx context.Context) (bool, error) {
		return s.deps.Payments.Charge(ctx, reference, amount)
	})
}

func (s *TicketService) refund(ctx context.Context, reference string, amount models.Money) (bool, error) {
	return callGateway(ctx, s.cfg.PaymentTimeout, func(ctx context.Context) (bool, error) {
		return s.deps.Payments.Refund(ctx, reference, amount)
	})
}

// escalate reports a failed compensation. The seat-count invariant may no
// longer hold, so this is never downgraded to a business error.
func (s *TicketService) escalate(log *logrus.Entry, cause error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	log.WithError(cause).WithField("escalate", true).Error(msg)
	return fmt.Errorf("%w: %s: %v", models.ErrFatalConsistency, msg, cause)
}

// voidCharge refunds a charge whose outcome is unknown
func (s *TicketService) voidCharge(ctx context.Context, log *logrus.Entry, reference string, amount models.Money) {
	ok, err := s.refund(ctx, reference, amount)
	if err != nil || !ok {
		log.WithError(err).Warn("Void of timed out charge was not confirmed")
		return
	}
	log.Info("Timed out charge voided")
}

// Purchase sells one seat to one passenger
func (s *TicketService) Purchase(ctx context.Context, req models.PurchaseRequest) (*models.PurchaseResult, error) {
	log := s.deps.Logger.WithFields(logrus.Fields{
		"user_id":     req.UserID,
		"schedule_id": req.ScheduleID,
		"fare_class":  req.FareClass,
	})
	log.WithField("state", "validating").Debug("Purchase started")

	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user is required", models.ErrInvalidArgument)
	}
	schedule, err := s.deps.Schedules.GetSchedule(ctx, req.ScheduleID)
	if err != nil {
		return nil, err
	}
	class, err := models.ParseFareClass(string(req.FareClass))
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
	passenger, err := s.deps.Passengers.GetPassenger(ctx, req.PassengerID)
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, s.deps.Authz, policy.Request{
		UserID: req.UserID, Action: policy.ActionUsePassenger, OwnerID: passenger.UserID,
	}); err != nil {
		return nil, err
	}

	log.WithField("state", "identity_checking").Debug("Verifying passenger identity")
	verified, err := callGateway(ctx, s.cfg.IdentityTimeout, func(ctx context.Context) (bool, error) {
		return s.deps.Identity.Verify(ctx, passenger.Name, passenger.IDNumber)
	})
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil || !verified {
		log.WithError(err).Info("Identity verification rejected the passenger")
		return nil, fmt.Errorf("%w: passenger %s", models.ErrIdentityVerificationFailed, passenger.ID)
	}

	log.WithField("state", "reserving").Debug("Reserving seat")
	reserved, err := s.deps.Ledger.TryReserve(ctx, schedule.ID, class, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve seat: %w", err)
	}
	if !reserved {
		return nil, fmt.Errorf("%w: no %s seats left on schedule %s", models.ErrInsufficientInventory, class, schedule.ID)
	}

	// A seat is held from here on: every exit either commits or compensates,
	// and compensation must not be cut short by the caller going away.
	cctx := context.WithoutCancel(ctx)

	order := &models.Order{
		ID:            s.newID(),
		UserID:        req.UserID,
		Type:          models.OrderPurchase,
		TotalAmount:   price,
		PaymentStatus: models.PaymentUnpaid,
		Status:        models.OrderProcessing,
	}
	ticket := &models.Ticket{
		ID:            s.newID(),
		UserID:        req.UserID,
		OrderID:       order.ID,
		ScheduleID:    schedule.ID,
		PassengerID:   passenger.ID,
		PassengerName: passenger.Name,
		FareClass:     class,
		PricePaid:     price,
		Status:        models.TicketUnpaid,
	}
	log = log.WithFields(logrus.Fields{"order_id": order.ID, "ticket_id": ticket.ID})

	if err := s.createRecords(cctx, log, order, ticket); err != nil {
		return nil, err
	}

	log.WithField("state", "awaiting_payment").Debug("Charging")
	paid, err := s.charge(ctx, order.ID, price)
	if err != nil || !paid {
		log.WithError(err).WithField("state", "compensating").Warn("Payment failed, cancelling order")
		if err != nil {
			s.voidCharge(cctx, log, order.ID, price)
		}
		if cerr := s.cancelUnpaid(cctx, log, order, ticket); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("%w: order %s was cancelled", models.ErrPaymentFailed, order.ID)
	}

	log.WithField("state", "committing").Debug("Payment accepted")
	if err := s.commit(cctx, order, ticket); err != nil {
		log.WithError(err).WithField("state", "compensating").Warn("Commit failed after payment, refunding")
		return nil, s.unwindPaid(cctx, log, order, ticket, order.TotalAmount, err)
	}

	log.WithFields(logrus.Fields{"state": "completed", "seat": ticket.SeatNumber}).
		Infof("Ticket sold: %s for %s on %s", ticket.ID, passenger.Name, schedule.TrainNumber)
	return &models.PurchaseResult{Order: order, Ticket: ticket}, nil
}

// createRecords stores a Processing order and its Unpaid ticket. On failure
// the reserved seat is given back.
func (s *TicketService) createRecords(ctx context.Context, log *logrus.Entry, order *models.Order, ticket *models.Ticket) error {
	err := s.deps.Store.CreateOrder(ctx, order)
	if err == nil {
		if err = s.deps.Store.CreateTicket(ctx, ticket); err != nil {
			if uerr := s.deps.Store.UpdateOrder(ctx, models.OrderTransition{
				OrderID: order.ID, From: models.OrderProcessing, To: models.OrderCancelled, Payment: models.PaymentFailed,
			}); uerr != nil {
				log.WithError(uerr).Warn("Could not cancel order without ticket")
			}
		}
	}
	if err == nil {
		return nil
	}

	if rerr := s.deps.Ledger.Release(ctx, ticket.ScheduleID, ticket.FareClass, 1); rerr != nil {
		return s.escalate(log, rerr, "seat of unsaved order %s could not be released", order.ID)
	}
	return fmt.Errorf("failed to save order: %w", err)
}

// cancelUnpaid undoes a purchase whose charge did not go through
func (s *TicketService) cancelUnpaid(ctx context.Context, log *logrus.Entry, order *models.Order, ticket *models.Ticket) error {
	err := s.deps.Store.UpdateTicket(ctx, models.TicketTransition{
		TicketID: ticket.ID, From: models.TicketUnpaid, To: models.TicketCancelled,
	})
	if err != nil {
		current, gerr := s.deps.Store.GetTicket(ctx, ticket.ID)
		if gerr != nil || current.Status != models.TicketCancelled {
			return s.escalate(log, err, "ticket %s could not be cancelled", ticket.ID)
		}
		// Already cancelled elsewhere, which also gave the seat back
		ticket.Status = models.TicketCancelled
		return nil
	}
	ticket.Status = models.TicketCancelled

	if err := s.deps.Ledger.Release(ctx, ticket.ScheduleID, ticket.FareClass, 1); err != nil {
		return s.escalate(log, err, "seat of cancelled ticket %s could not be released", ticket.ID)
	}
	if err := s.deps.Store.UpdateOrder(ctx, models.OrderTransition{
		OrderID: order.ID, From: models.OrderProcessing, To: models.OrderCancelled, Payment: models.PaymentFailed,
	}); err != nil {
		return s.escalate(log, err, "order %s could not be cancelled", order.ID)
	}
	order.Status, order.PaymentStatus = models.OrderCancelled, models.PaymentFailed
	return nil
}

// commit re-checks the schedule, assigns a seat and completes the order
func (s *TicketService) commit(ctx context.Context, order *models.Order, ticket *models.Ticket) error {
	if err := s.revalidate(ctx, ticket.ScheduleID); err != nil {
		return err
	}
	return s.issue(ctx, order, ticket, ticket.SettledStatus())
}

// revalidate fails when the schedule stopped being bookable while a
// gateway call was in flight
func (s *TicketService) revalidate(ctx context.Context, scheduleID string) error {
	schedule, err := s.deps.Schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	return schedule.Bookable(s.now())
}

// issue assigns a seat label, moves the ticket out of Unpaid and completes the order
func (s *TicketService) issue(ctx context.Context, order *models.Order, ticket *models.Ticket, status models.TicketStatus) error {
	seat := s.deps.Seats.Assign(ticket.ScheduleID, ticket.FareClass)
	if err := s.deps.Store.UpdateTicket(ctx, models.TicketTransition{
		TicketID: ticket.ID, From: models.TicketUnpaid, To: status, SeatNumber: seat,
	}); err != nil {
		return err
	}
	ticket.Status, ticket.SeatNumber = status, seat

	if err := s.deps.Store.UpdateOrder(ctx, models.OrderTransition{
		OrderID: order.ID, From: models.OrderProcessing, To: models.OrderCompleted, Payment: models.PaymentSuccess,
	}); err != nil {
		return err
	}
	order.Status, order.PaymentStatus = models.OrderCompleted, models.PaymentSuccess
	return nil
}

// unwindPaid gives the money back after a charge succeeded but the commit
// did not. charged is the amount collected under the order reference.
func (s *TicketService) unwindPaid(ctx context.Context, log *logrus.Entry, order *models.Order, ticket *models.Ticket, charged models.Money, cause error) error {
	current, err := s.deps.Store.GetTicket(ctx, ticket.ID)
	if err != nil {
		return s.escalate(log, err, "paid ticket %s could not be read back", ticket.ID)
	}

	switch current.Status {
	case models.TicketUnpaid, models.TicketCancelled:
		if charged > 0 {
			if ok, err := s.refund(ctx, order.ID, charged); err != nil || !ok {
				if err == nil {
					err = errors.New("refund declined")
				}
				return s.escalate(log, err, "charge of order %s could not be refunded", order.ID)
			}
		}
		if current.Status == models.TicketUnpaid {
			if err := s.cancelUnpaid(ctx, log, order, ticket); err != nil {
				return err
			}
		}
		ticket.Status = models.TicketCancelled
	case models.TicketPaid, models.TicketIssued:
		// The ticket is issued but the order is not: refund it like any other
		if err := s.refundHeld(ctx, log, current); err != nil {
			return err
		}
		*ticket = *current
		if _, err := s.closeOrderIfRefunded(ctx, order.ID); err != nil {
			log.WithError(err).Warn("Order of refunded ticket left open")
		}
	default:
		return s.escalate(log, cause, "ticket %s is %s after failed commit", ticket.ID, current.Status)
	}

	log.WithError(cause).Info("Purchase rolled back and payment refunded")
	if errors.Is(cause, models.ErrStateConflict) || errors.Is(cause, models.ErrInvalidArgument) {
		return fmt.Errorf("%w (payment refunded)", cause)
	}
	return fmt.Errorf("failed to complete purchase, payment refunded: %w", cause)
}

// ListTickets returns the user's tickets, newest first
func (s *TicketService) ListTickets(ctx context.Context, userID string) ([]models.Ticket, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", models.ErrInvalidArgument)
	}
	tickets, err := s.deps.Store.ListTicketsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	return tickets, nil
}

// GetTicket returns one of the user's tickets
func (s *TicketService) GetTicket(ctx context.Context, userID, ticketID string) (*models.Ticket, error) {
	ticket, err := s.deps.Store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, s.deps.Authz, policy.Request{
		UserID: userID, Action: policy.ActionViewTicket, OwnerID: ticket.UserID,
	}); err != nil {
		return nil, err
	}
	return ticket, nil
}

// CheckIn marks a paid or issued ticket as checked in
func (s *TicketService) CheckIn(ctx context.Context, userID, ticketID string) (*models.Ticket, error) {
	unlock := s.locks.Lock(ticketID)
	defer unlock()

	ticket, err := s.deps.Store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, s.deps.Authz, policy.Request{
		UserID: userID, Action: policy.ActionCheckInTicket, OwnerID: ticket.UserID,
	}); err != nil {
		return nil, err
	}
	if ticket.Status != models.TicketPaid && ticket.Status != models.TicketIssued {
		return nil, fmt.Errorf("%w: ticket %s is %s", models.ErrStateConflict, ticket.ID, ticket.Status)
	}
	if err := s.deps.Store.UpdateTicket(ctx, models.TicketTransition{
		TicketID: ticket.ID, From: ticket.Status, To: models.TicketCheckedIn,
	}); err != nil {
		return nil, err
	}
	ticket.Status = models.TicketCheckedIn

	s.deps.Logger.WithFields(logrus.Fields{"ticket_id": ticket.ID, "user_id": userID}).Info("Ticket checked in")
	return ticket, nil
}
