package models

// PurchaseRequest represents a ticket purchase request
type PurchaseRequest struct {
	UserID      string    `json:"-"`
	ScheduleID  string    `json:"schedule_id" binding:"required"`
	PassengerID string    `json:"passenger_id" binding:"required"`
	FareClass   FareClass `json:"fare_class" binding:"required"`
}

// PurchaseResult is returned by a successful purchase
type PurchaseResult struct {
	Order  *Order  `json:"order"`
	Ticket *Ticket `json:"ticket"`
}

// RefundRequest asks for a ticket to be refunded. An empty UserID or the
// operator role means the refund is not restricted to the ticket owner.
type RefundRequest struct {
	TicketID string `json:"-"`
	UserID   string `json:"-"`
	Role     string `json:"-"`
}

// RefundResult is returned by a successful refund
type RefundResult struct {
	TicketID    string       `json:"ticket_id"`
	Amount      Money        `json:"amount"`
	Status      TicketStatus `json:"status"`
	OrderID     string       `json:"order_id"`
	OrderStatus OrderStatus  `json:"order_status"`
	Message     string       `json:"message"`
}

// ChangeRequest asks for a ticket to be rebooked onto another schedule
type ChangeRequest struct {
	TicketID      string    `json:"-"`
	UserID        string    `json:"-"`
	NewScheduleID string    `json:"new_schedule_id" binding:"required"`
	NewFareClass  FareClass `json:"new_fare_class" binding:"required"`
}

// ChangeResult is returned by a successful change
type ChangeResult struct {
	OldTicketID string  `json:"old_ticket_id"`
	NewTicket   *Ticket `json:"new_ticket"`
	Order       *Order  `json:"order"`
	// PriceDifference is new price minus old price paid
	PriceDifference Money `json:"price_difference"`
	// RefundFailed is set when a negative difference could not be refunded
	RefundFailed bool   `json:"refund_failed,omitempty"`
	Message      string `json:"message"`
}

// Response is the envelope used by the HTTP layer
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ScheduleSearchRequest represents a schedule search from the query string
type ScheduleSearchRequest struct {
	From string `form:"from"`
	To   string `form:"to"`
	// Date is YYYY-MM-DD
	Date string `form:"date"`
	// TimePreference is morning, afternoon, evening or any
	TimePreference string `form:"time"`
	// FareClass keeps only schedules with seats left in that class
	FareClass string `form:"class"`
}
