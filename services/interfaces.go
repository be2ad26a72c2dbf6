package services

import (
	"context"
	"time"

	"train-ticketing/models"
	"train-ticketing/policy"
)

// ScheduleLookup resolves schedules and their fares
type ScheduleLookup interface {
	GetSchedule(ctx context.Context, id string) (*models.TrainSchedule, error)
	PriceOf(ctx context.Context, scheduleID string, class models.FareClass) (models.Money, bool, error)
}

// ScheduleStore is the writable side of the schedule catalog
type ScheduleStore interface {
	ScheduleLookup
	CreateSchedule(ctx context.Context, s *models.TrainSchedule, fares []models.Fare) error
	SearchSchedules(ctx context.Context, q models.ScheduleQuery) ([]models.TrainSchedule, error)
	UpdateScheduleStatus(ctx context.Context, id string, status models.ScheduleStatus) error
}

// SeatLedger is the authoritative per (schedule, class) seat count
type SeatLedger interface {
	TryReserve(ctx context.Context, scheduleID string, class models.FareClass, n int) (bool, error)
	Release(ctx context.Context, scheduleID string, class models.FareClass, n int) error
	Provision(ctx context.Context, scheduleID string, class models.FareClass, count int) error
	Available(ctx context.Context, scheduleID string, class models.FareClass) (int, error)
}

// IdentityGateway verifies a passenger's identity document
type IdentityGateway interface {
	Verify(ctx context.Context, name, idNumber string) (bool, error)
}

// PaymentGateway moves money. Both calls report false when declined.
type PaymentGateway interface {
	Charge(ctx context.Context, reference string, amount models.Money) (bool, error)
	Refund(ctx context.Context, reference string, amount models.Money) (bool, error)
}

// OrderTicketStore persists orders and tickets
type OrderTicketStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error)
	UpdateOrder(ctx context.Context, t models.OrderTransition) error

	CreateTicket(ctx context.Context, ticket *models.Ticket) error
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	ListTicketsByUser(ctx context.Context, userID string) ([]models.Ticket, error)
	ListTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error)
	ListTicketsByStatus(ctx context.Context, status models.TicketStatus, updatedBefore time.Time) ([]models.Ticket, error)
	UpdateTicket(ctx context.Context, t models.TicketTransition) error
}

// PassengerDirectory resolves passengers for ticketing
type PassengerDirectory interface {
	GetPassenger(ctx context.Context, id string) (*models.Passenger, error)
}

// PassengerStore manages a user's passengers
type PassengerStore interface {
	PassengerDirectory
	CreatePassenger(ctx context.Context, p *models.Passenger) error
	ListPassengersByUser(ctx context.Context, userID string) ([]models.Passenger, error)
	SetDefaultPassenger(ctx context.Context, userID, passengerID string) error
	DeletePassenger(ctx context.Context, id string) error
	CountTicketsByPassenger(ctx context.Context, passengerID string) (int, error)
}

// Authorizer answers ownership questions
type Authorizer interface {
	Allowed(ctx context.Context, req policy.Request) (bool, error)
}
