package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"train-ticketing/models"
)

type scheduleRecord struct {
	schedule models.TrainSchedule
	fares    []models.Fare
}

// Memory keeps every record in process. Orders and tickets live in
// append-only arenas addressed through id indexes.
type Memory struct {
	mu sync.RWMutex

	orders      []models.Order
	orderIndex  map[string]int
	tickets     []models.Ticket
	ticketIndex map[string]int

	passengers map[string]models.Passenger
	schedules  map[string]*scheduleRecord
}

// NewMemory returns an empty in-process store
func NewMemory() *Memory {
	return &Memory{
		orderIndex:  make(map[string]int),
		ticketIndex: make(map[string]int),
		passengers:  make(map[string]models.Passenger),
		schedules:   make(map[string]*scheduleRecord),
	}
}

// CreateOrder stores a new order
func (m *Memory) CreateOrder(_ context.Context, order *models.Order) error {
	if err := checkOrder(order); err != nil {
		return err
	}
	stamp(&order.CreatedAt, &order.UpdatedAt)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orderIndex[order.ID]; ok {
		return duplicate("order", order.ID)
	}
	stored := *order
	stored.Tickets = nil
	m.orderIndex[order.ID] = len(m.orders)
	m.orders = append(m.orders, stored)
	return nil
}

// GetOrder returns an order without its tickets
func (m *Memory) GetOrder(_ context.Context, id string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.orderIndex[id]
	if !ok {
		return nil, notFound("order", id)
	}
	order := m.orders[i]
	return &order, nil
}

// ListOrdersByUser returns the user's orders, newest first
func (m *Memory) ListOrdersByUser(_ context.Context, userID string) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Order
	for i := len(m.orders) - 1; i >= 0; i-- {
		if m.orders[i].UserID == userID {
			out = append(out, m.orders[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// UpdateOrder moves an order from t.From to t.To
func (m *Memory) UpdateOrder(_ context.Context, t models.OrderTransition) error {
	if err := t.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.orderIndex[t.OrderID]
	if !ok {
		return notFound("order", t.OrderID)
	}
	order := &m.orders[i]
	if order.Status != t.From {
		return staleOrder(t.OrderID, t.From, order.Status)
	}
	order.Status = t.To
	if t.Payment != "" {
		order.PaymentStatus = t.Payment
	}
	order.UpdatedAt = now()
	return nil
}

// CreateTicket stores a new ticket
func (m *Memory) CreateTicket(_ context.Context, ticket *models.Ticket) error {
	if err := checkTicket(ticket); err != nil {
		return err
	}
	stamp(&ticket.CreatedAt, &ticket.UpdatedAt)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ticketIndex[ticket.ID]; ok {
		return duplicate("ticket", ticket.ID)
	}
	m.ticketIndex[ticket.ID] = len(m.tickets)
	m.tickets = append(m.tickets, *ticket)
	return nil
}

// GetTicket returns one ticket
func (m *Memory) GetTicket(_ context.Context, id string) (*models.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.ticketIndex[id]
	if !ok {
		return nil, notFound("ticket", id)
	}
	ticket := m.tickets[i]
	return &ticket, nil
}

func (m *Memory) filterTickets(keep func(*models.Ticket) bool) []models.Ticket {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Ticket
	for i := len(m.tickets) - 1; i >= 0; i-- {
		if keep(&m.tickets[i]) {
			out = append(out, m.tickets[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ListTicketsByUser returns the user's tickets, newest first
func (m *Memory) ListTicketsByUser(_ context.Context, userID string) ([]models.Ticket, error) {
	return m.filterTickets(func(t *models.Ticket) bool { return t.UserID == userID }), nil
}

// ListTicketsByOrder returns the tickets governed by an order
func (m *Memory) ListTicketsByOrder(_ context.Context, orderID string) ([]models.Ticket, error) {
	return m.filterTickets(func(t *models.Ticket) bool { return t.OrderID == orderID }), nil
}

// ListTicketsByStatus returns tickets in a status last updated before the cutoff
func (m *Memory) ListTicketsByStatus(_ context.Context, status models.TicketStatus, updatedBefore time.Time) ([]models.Ticket, error) {
	return m.filterTickets(func(t *models.Ticket) bool {
		return t.Status == status && t.UpdatedAt.Before(updatedBefore)
	}), nil
}

// CountTicketsByPassenger counts tickets of any status issued to a passenger
func (m *Memory) CountTicketsByPassenger(_ context.Context, passengerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for i := range m.tickets {
		if m.tickets[i].PassengerID == passengerID {
			n++
		}
	}
	return n, nil
}

// UpdateTicket moves a ticket from t.From to t.To
func (m *Memory) UpdateTicket(_ context.Context, t models.TicketTransition) error {
	if err := t.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.ticketIndex[t.TicketID]
	if !ok {
		return notFound("ticket", t.TicketID)
	}
	ticket := &m.tickets[i]
	if ticket.Status != t.From {
		return staleTicket(t.TicketID, t.From, ticket.Status)
	}
	ticket.Status = t.To
	if t.SeatNumber != "" {
		ticket.SeatNumber = t.SeatNumber
	}
	ticket.UpdatedAt = now()
	return nil
}

// CreatePassenger registers a passenger; an id number is unique per user
func (m *Memory) CreatePassenger(_ context.Context, p *models.Passenger) error {
	if err := checkPassenger(p); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.passengers[p.ID]; ok {
		return duplicate("passenger", p.ID)
	}
	for _, existing := range m.passengers {
		if existing.UserID == p.UserID && existing.IDNumber == p.IDNumber {
			return duplicate("passenger with id number", p.IDNumber)
		}
	}
	if p.IsDefault {
		m.clearDefault(p.UserID)
	}
	m.passengers[p.ID] = *p
	return nil
}

// GetPassenger returns one passenger
func (m *Memory) GetPassenger(_ context.Context, id string) (*models.Passenger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.passengers[id]
	if !ok {
		return nil, notFound("passenger", id)
	}
	return &p, nil
}

// ListPassengersByUser returns the default passenger first, then oldest first
func (m *Memory) ListPassengersByUser(_ context.Context, userID string) ([]models.Passenger, error) {
	m.mu.RLock()
	var out []models.Passenger
	for _, p := range m.passengers {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) clearDefault(userID string) {
	for id, p := range m.passengers {
		if p.UserID == userID && p.IsDefault {
			p.IsDefault = false
			m.passengers[id] = p
		}
	}
}

// SetDefaultPassenger makes one of the user's passengers the default
func (m *Memory) SetDefaultPassenger(_ context.Context, userID, passengerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.passengers[passengerID]
	if !ok || p.UserID != userID {
		return notFound("passenger", passengerID)
	}
	m.clearDefault(userID)
	p.IsDefault = true
	m.passengers[passengerID] = p
	return nil
}

// DeletePassenger removes a passenger record
func (m *Memory) DeletePassenger(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.passengers[id]; !ok {
		return notFound("passenger", id)
	}
	delete(m.passengers, id)
	return nil
}

// CreateSchedule stores a schedule with its fares
func (m *Memory) CreateSchedule(_ context.Context, s *models.TrainSchedule, fares []models.Fare) error {
	if err := checkSchedule(s, fares); err != nil {
		return err
	}
	s.Prices = priceMap(fares)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[s.ID]; ok {
		return duplicate("schedule", s.ID)
	}
	rec := &scheduleRecord{schedule: *s, fares: append([]models.Fare(nil), fares...)}
	rec.schedule.Available = nil
	m.schedules[s.ID] = rec
	return nil
}

func (r *scheduleRecord) snapshot() models.TrainSchedule {
	s := r.schedule
	s.Prices = priceMap(r.fares)
	return s
}

// GetSchedule returns a schedule with its prices
func (m *Memory) GetSchedule(_ context.Context, id string) (*models.TrainSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.schedules[id]
	if !ok {
		return nil, notFound("schedule", id)
	}
	s := rec.snapshot()
	return &s, nil
}

// PriceOf returns the fare of one class; ok is false when the class is not sold
func (m *Memory) PriceOf(_ context.Context, scheduleID string, class models.FareClass) (models.Money, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.schedules[scheduleID]
	if !ok {
		return 0, false, notFound("schedule", scheduleID)
	}
	for _, f := range rec.fares {
		if f.Class == class {
			return f.Price, true, nil
		}
	}
	return 0, false, nil
}

// SearchSchedules returns matching schedules ordered by departure
func (m *Memory) SearchSchedules(_ context.Context, q models.ScheduleQuery) ([]models.TrainSchedule, error) {
	var start, end time.Time
	if !q.Date.IsZero() {
		start, end = dayBounds(q.Date)
	}

	m.mu.RLock()
	var out []models.TrainSchedule
	for _, rec := range m.schedules {
		s := &rec.schedule
		if q.DepartureStation != "" && s.DepartureStation != q.DepartureStation {
			continue
		}
		if q.ArrivalStation != "" && s.ArrivalStation != q.ArrivalStation {
			continue
		}
		if !q.Date.IsZero() && (s.DepartureTime.Before(start) || !s.DepartureTime.Before(end)) {
			continue
		}
		out = append(out, rec.snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].DepartureTime.Equal(out[j].DepartureTime) {
			return out[i].DepartureTime.Before(out[j].DepartureTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateScheduleStatus suspends, cancels or reactivates a schedule
func (m *Memory) UpdateScheduleStatus(_ context.Context, id string, status models.ScheduleStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.schedules[id]
	if !ok {
		return notFound("schedule", id)
	}
	rec.schedule.Status = status
	return nil
}
