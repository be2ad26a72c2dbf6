package models

import (
	"fmt"
	"time"
)

// TicketStatus is the ticket lifecycle
type TicketStatus string

const (
	TicketUnpaid        TicketStatus = "Unpaid"
	TicketPaid          TicketStatus = "Paid"
	TicketIssued        TicketStatus = "Issued"
	TicketCheckedIn     TicketStatus = "CheckedIn"
	TicketRefundPending TicketStatus = "RefundPending"
	TicketRefunded      TicketStatus = "Refunded"
	TicketRebooked      TicketStatus = "Rebooked"
	TicketCancelled     TicketStatus = "Cancelled"
)

// ticketTransitions is the ticket state machine
var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketUnpaid:        {TicketPaid, TicketIssued, TicketCancelled},
	TicketPaid:          {TicketIssued, TicketCheckedIn, TicketRefundPending, TicketRebooked},
	TicketIssued:        {TicketCheckedIn, TicketRefundPending, TicketRebooked},
	TicketRefundPending: {TicketRefunded, TicketPaid, TicketIssued},
}

// CanTransition reports whether a ticket may move from one status to another
func CanTransition(from, to TicketStatus) bool {
	for _, next := range ticketTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// HoldsSeat reports whether a ticket in this status owns one reservation unit
func (s TicketStatus) HoldsSeat() bool {
	switch s {
	case TicketPaid, TicketIssued, TicketCheckedIn:
		return true
	}
	return false
}

// Refundable reports whether refund may start from this status
func (s TicketStatus) Refundable() bool {
	return s == TicketPaid || s == TicketIssued
}

// Changeable reports whether rebooking may start from this status
func (s TicketStatus) Changeable() bool {
	return s == TicketPaid || s == TicketIssued
}

// IsTransitional reports whether the status is expected to resolve further
func (s TicketStatus) IsTransitional() bool {
	return s == TicketUnpaid || s == TicketRefundPending
}

// IsTerminal reports whether no further transition is possible
func (s TicketStatus) IsTerminal() bool {
	return len(ticketTransitions[s]) == 0
}

// Ticket is one passenger's seat on one schedule
type Ticket struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	OrderID       string       `json:"order_id"`
	ScheduleID    string       `json:"schedule_id"`
	PassengerID   string       `json:"passenger_id"`
	PassengerName string       `json:"passenger_name"`
	FareClass     FareClass    `json:"fare_class"`
	SeatNumber    string       `json:"seat_number,omitempty"`
	PricePaid     Money        `json:"price_paid"`
	Status        TicketStatus `json:"status"`
	// RebookedFrom is the ticket this one replaced through a change
	RebookedFrom string    `json:"rebooked_from,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SettledStatus is the status the ticket holds once its purchase or change
// completes: Issued for a replacement, Paid otherwise
func (t *Ticket) SettledStatus() TicketStatus {
	if t.RebookedFrom != "" {
		return TicketIssued
	}
	return TicketPaid
}

// TicketTransition is a compare-and-set status update
type TicketTransition struct {
	TicketID string
	From     TicketStatus
	To       TicketStatus
	// SeatNumber is stored when non-empty
	SeatNumber string
}

// Validate checks the transition against the state machine
func (t TicketTransition) Validate() error {
	if !CanTransition(t.From, t.To) {
		return fmt.Errorf("%w: ticket %s cannot move from %s to %s", ErrStateConflict, t.TicketID, t.From, t.To)
	}
	return nil
}
