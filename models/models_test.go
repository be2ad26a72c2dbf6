package models

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney(t *testing.T) {
	assert.Equal(t, "553.00", Yuan(553).String())
	assert.Equal(t, "-0.05", Money(-5).String())
	assert.Equal(t, Money(5), Money(-5).Abs())

	tests := []struct {
		in   string
		want Money
	}{
		{"553", 55300},
		{"117.5", 11750},
		{"0.07", 7},
		{" -80.25 ", -8025},
	}
	for _, tt := range tests {
		got, err := ParseMoney(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	for _, bad := range []string{"", "1.234", "abc", "1.x"} {
		_, err := ParseMoney(bad)
		assert.ErrorIs(t, err, ErrInvalidArgument, bad)
	}

	assert.Equal(t, Yuan(1800), Yuan(1200).Scale(150))
	assert.Equal(t, Money(2), Money(3).Scale(50), "half rounds up")
}

func TestParseFareClass(t *testing.T) {
	for in, want := range map[string]FareClass{
		"SecondClass": SecondClass,
		"second":      SecondClass,
		" FIRST ":     FirstClass,
		"hard_seat":   HardSeat,
	} {
		got, err := ParseFareClass(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFareClass("deck")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTicketTransitions(t *testing.T) {
	allowed := [][2]TicketStatus{
		{TicketUnpaid, TicketPaid},
		{TicketUnpaid, TicketCancelled},
		{TicketPaid, TicketRefundPending},
		{TicketIssued, TicketRebooked},
		{TicketRefundPending, TicketRefunded},
		{TicketRefundPending, TicketPaid},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
		assert.NoError(t, TicketTransition{TicketID: "t", From: tr[0], To: tr[1]}.Validate())
	}

	denied := [][2]TicketStatus{
		{TicketRefunded, TicketPaid},
		{TicketCancelled, TicketUnpaid},
		{TicketUnpaid, TicketRefunded},
		{TicketCheckedIn, TicketRefundPending},
		{TicketRebooked, TicketIssued},
	}
	for _, tr := range denied {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
		assert.ErrorIs(t, TicketTransition{TicketID: "t", From: tr[0], To: tr[1]}.Validate(), ErrStateConflict)
	}

	assert.True(t, TicketPaid.Refundable())
	assert.True(t, TicketIssued.Changeable())
	assert.False(t, TicketCheckedIn.Refundable())
	assert.True(t, TicketRefundPending.IsTransitional())
	assert.True(t, TicketRefunded.IsTerminal())
	assert.False(t, TicketPaid.IsTerminal())

	assert.Equal(t, TicketPaid, (&Ticket{}).SettledStatus())
	assert.Equal(t, TicketIssued, (&Ticket{RebookedFrom: "t-0"}).SettledStatus())
}

func TestOrderTransition(t *testing.T) {
	assert.NoError(t, OrderTransition{OrderID: "o", From: OrderProcessing, To: OrderCompleted, Payment: PaymentSuccess}.Validate())
	assert.NoError(t, OrderTransition{OrderID: "o", From: OrderCompleted, To: OrderCancelled, Payment: PaymentRefunded}.Validate())

	err := OrderTransition{OrderID: "o", From: OrderProcessing, To: OrderCompleted, Payment: PaymentFailed}.Validate()
	assert.ErrorIs(t, err, ErrStateConflict)
	err = OrderTransition{OrderID: "o", From: OrderCancelled, To: OrderCompleted, Payment: PaymentSuccess}.Validate()
	assert.ErrorIs(t, err, ErrStateConflict)

	o := Order{ID: "o", Status: OrderCompleted, PaymentStatus: PaymentUnpaid}
	assert.ErrorIs(t, o.Validate(), ErrStateConflict)
}

func TestBookable(t *testing.T) {
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	s := TrainSchedule{ID: "s", Status: ScheduleActive, DepartureTime: now.Add(time.Hour)}
	assert.NoError(t, s.Bookable(now))
	assert.ErrorIs(t, s.Bookable(now.Add(time.Hour)), ErrInvalidArgument)

	s.Status = ScheduleSuspended
	assert.ErrorIs(t, s.Bookable(now), ErrStateConflict)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("%w: ticket t", ErrNotFound), http.StatusNotFound},
		{ErrInvalidArgument, http.StatusBadRequest},
		{ErrUnauthorized, http.StatusForbidden},
		{ErrInsufficientInventory, http.StatusConflict},
		{ErrStateConflict, http.StatusConflict},
		{ErrIdentityVerificationFailed, http.StatusUnprocessableEntity},
		{ErrPaymentFailed, http.StatusPaymentRequired},
		{ErrRefundProcessingFailed, http.StatusBadGateway},
		{ErrFatalConsistency, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "%v", tt.err)
	}
}
