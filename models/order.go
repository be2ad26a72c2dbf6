package models

import (
	"fmt"
	"time"
)

// OrderType records which workflow created the order
type OrderType string

const (
	OrderPurchase OrderType = "Purchase"
	OrderRefund   OrderType = "Refund"
	OrderChange   OrderType = "Change"
)

// PaymentStatus tracks money movement for an order
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "Unpaid"
	PaymentSuccess  PaymentStatus = "Success"
	PaymentFailed   PaymentStatus = "Failed"
	PaymentRefunded PaymentStatus = "Refunded"
)

// OrderStatus is the order lifecycle
type OrderStatus string

const (
	OrderProcessing OrderStatus = "Processing"
	OrderCompleted  OrderStatus = "Completed"
	OrderCancelled  OrderStatus = "Cancelled"
)

// Order owns one or more tickets and the payment made for them
type Order struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	Type          OrderType     `json:"type"`
	TotalAmount   Money         `json:"total_amount"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Status        OrderStatus   `json:"status"`
	// OriginalOrderID links a change order to the order of the ticket it replaced
	OriginalOrderID string    `json:"original_order_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// Joined fields
	Tickets []Ticket `json:"tickets,omitempty"`
}

// Validate checks the status/payment invariant
func (o *Order) Validate() error {
	if o.Status == OrderCompleted && o.PaymentStatus != PaymentSuccess {
		return fmt.Errorf("%w: order %s completed with payment %s", ErrStateConflict, o.ID, o.PaymentStatus)
	}
	return nil
}

// OrderTransition is a compare-and-set status update
type OrderTransition struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
	Payment PaymentStatus
}

// Validate rejects transitions that would break the order invariant
func (t OrderTransition) Validate() error {
	if t.To == OrderCompleted && t.Payment != PaymentSuccess {
		return fmt.Errorf("%w: cannot complete order %s with payment %s", ErrStateConflict, t.OrderID, t.Payment)
	}
	if t.From != OrderProcessing && t.From != t.To {
		// Completed orders only move to Cancelled when all tickets are refunded
		if !(t.From == OrderCompleted && t.To == OrderCancelled) {
			return fmt.Errorf("%w: order %s cannot move from %s to %s", ErrStateConflict, t.OrderID, t.From, t.To)
		}
	}
	return nil
}
