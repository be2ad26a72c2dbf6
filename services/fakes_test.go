package services

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"train-ticketing/ledger"
	"train-ticketing/models"
	"train-ticketing/policy"
	"train-ticketing/store"
)

type payment struct {
	Reference string
	Amount    models.Money
}

type moneyFunc func(ctx context.Context, reference string, amount models.Money) (bool, error)

// fakePayment approves everything unless a script is set
type fakePayment struct {
	mu       sync.Mutex
	chargeFn moneyFunc
	refundFn moneyFunc
	charges  []payment
	refunds  []payment
}

func (p *fakePayment) Charge(ctx context.Context, reference string, amount models.Money) (bool, error) {
	p.mu.Lock()
	p.charges = append(p.charges, payment{reference, amount})
	fn := p.chargeFn
	p.mu.Unlock()
	if fn == nil {
		return true, nil
	}
	return fn(ctx, reference, amount)
}

func (p *fakePayment) Refund(ctx context.Context, reference string, amount models.Money) (bool, error) {
	p.mu.Lock()
	p.refunds = append(p.refunds, payment{reference, amount})
	fn := p.refundFn
	p.mu.Unlock()
	if fn == nil {
		return true, nil
	}
	return fn(ctx, reference, amount)
}

func (p *fakePayment) script(charge, refund moneyFunc) {
	p.mu.Lock()
	p.chargeFn, p.refundFn = charge, refund
	p.mu.Unlock()
}

func (p *fakePayment) recorded() (charges, refunds []payment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]payment(nil), p.charges...), append([]payment(nil), p.refunds...)
}

func decline(context.Context, string, models.Money) (bool, error) { return false, nil }

func hang(ctx context.Context, _ string, _ models.Money) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

// fakeIdentity rejects listed id numbers, or everything when err is set
type fakeIdentity struct {
	mu     sync.Mutex
	reject map[string]bool
	err    error
}

func (f *fakeIdentity) Verify(_ context.Context, _, idNumber string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return !f.reject[idNumber], nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fixture wires every service over the in-memory adapters
type fixture struct {
	store      *store.Memory
	ledger     *ledger.Memory
	payments   *fakePayment
	identity   *fakeIdentity
	schedules  *ScheduleService
	passengers *PassengerService
	orders     *OrderService
	tickets    *TicketService
}

func newFixture(t require.TestingT, authz *policy.Authorizer) *fixture {
	logger := quietLogger()
	f := &fixture{
		store:    store.NewMemory(),
		ledger:   ledger.NewMemory(),
		payments: &fakePayment{},
		identity: &fakeIdentity{reject: map[string]bool{}},
	}
	f.schedules = NewScheduleService(f.store, f.ledger, logger)
	f.passengers = NewPassengerService(f.store, authz, logger)
	f.orders = NewOrderService(f.store, authz)
	f.tickets = NewTicketService(TicketDeps{
		Schedules:  f.store,
		Ledger:     f.ledger,
		Identity:   f.identity,
		Payments:   f.payments,
		Store:      f.store,
		Passengers: f.store,
		Authz:      authz,
		Logger:     logger,
	}, TicketConfig{PaymentTimeout: time.Second, IdentityTimeout: time.Second})
	require.NotNil(t, f.tickets)
	return f
}

func (f *fixture) addSchedule(t require.TestingT, train string, fares ...models.Fare) *models.TrainSchedule {
	departure := time.Now().Add(48 * time.Hour)
	schedule := &models.TrainSchedule{
		TrainNumber:      train,
		DepartureStation: "Beijing South",
		ArrivalStation:   "Shanghai Hongqiao",
		DepartureTime:    departure,
		ArrivalTime:      departure.Add(4*time.Hour + 30*time.Minute),
	}
	require.NoError(t, f.schedules.AddSchedule(context.Background(), schedule, fares))
	return schedule
}

func (f *fixture) addPassenger(t require.TestingT, userID, name, idNumber string) *models.Passenger {
	p, err := f.passengers.Add(context.Background(), userID, models.PassengerCreateRequest{Name: name, IDNumber: idNumber})
	require.NoError(t, err)
	return p
}

func (f *fixture) available(t require.TestingT, scheduleID string, class models.FareClass) int {
	n, err := f.ledger.Available(context.Background(), scheduleID, class)
	require.NoError(t, err)
	return n
}

func (f *fixture) ticket(t require.TestingT, id string) *models.Ticket {
	ticket, err := f.store.GetTicket(context.Background(), id)
	require.NoError(t, err)
	return ticket
}

func (f *fixture) order(t require.TestingT, id string) *models.Order {
	order, err := f.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return order
}

func fare(class models.FareClass, yuan int64, capacity int) models.Fare {
	return models.Fare{Class: class, Price: models.Yuan(yuan), Capacity: capacity}
}
