// Package store persists orders, tickets, passengers and schedules.
//
// Orders and tickets are append-only: once created they only change through
// compare-and-set status transitions, so a concurrent writer that lost the
// race gets models.ErrStateConflict instead of silently overwriting.
package store

import (
	"fmt"
	"time"

	"train-ticketing/models"
)

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", models.ErrNotFound, kind, id)
}

func duplicate(kind, id string) error {
	return fmt.Errorf("%w: %s %s already exists", models.ErrStateConflict, kind, id)
}

func staleTicket(id string, want, got models.TicketStatus) error {
	return fmt.Errorf("%w: ticket %s is %s, expected %s", models.ErrStateConflict, id, got, want)
}

func staleOrder(id string, want, got models.OrderStatus) error {
	return fmt.Errorf("%w: order %s is %s, expected %s", models.ErrStateConflict, id, got, want)
}

// now is truncated to the precision every backend can round-trip
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func stamp(created *time.Time, updated *time.Time) {
	if created.IsZero() {
		*created = now()
	} else {
		*created = created.UTC().Truncate(time.Microsecond)
	}
	if updated.IsZero() || updated.Before(*created) {
		*updated = *created
	} else {
		*updated = updated.UTC().Truncate(time.Microsecond)
	}
}

// dayBounds returns [start, end) of the calendar day of d in d's location
func dayBounds(d time.Time) (time.Time, time.Time) {
	y, m, day := d.Date()
	start := time.Date(y, m, day, 0, 0, 0, 0, d.Location())
	return start, start.AddDate(0, 0, 1)
}

func checkOrder(o *models.Order) error {
	if o.ID == "" || o.UserID == "" {
		return fmt.Errorf("%w: order requires id and user", models.ErrInvalidArgument)
	}
	return o.Validate()
}

func checkTicket(t *models.Ticket) error {
	if t.ID == "" || t.UserID == "" || t.OrderID == "" || t.ScheduleID == "" {
		return fmt.Errorf("%w: ticket requires id, user, order and schedule", models.ErrInvalidArgument)
	}
	return nil
}

func checkPassenger(p *models.Passenger) error {
	if p.ID == "" || p.UserID == "" || p.IDNumber == "" {
		return fmt.Errorf("%w: passenger requires id, user and id number", models.ErrInvalidArgument)
	}
	return nil
}

func checkSchedule(s *models.TrainSchedule, fares []models.Fare) error {
	if s.ID == "" || s.TrainNumber == "" {
		return fmt.Errorf("%w: schedule requires id and train number", models.ErrInvalidArgument)
	}
	if s.DepartureStation == "" || s.ArrivalStation == "" {
		return fmt.Errorf("%w: schedule %s requires both stations", models.ErrInvalidArgument, s.ID)
	}
	if !s.ArrivalTime.After(s.DepartureTime) {
		return fmt.Errorf("%w: schedule %s arrives before it departs", models.ErrInvalidArgument, s.ID)
	}
	seen := make(map[models.FareClass]bool, len(fares))
	for _, f := range fares {
		if seen[f.Class] {
			return fmt.Errorf("%w: schedule %s lists %s twice", models.ErrInvalidArgument, s.ID, f.Class)
		}
		seen[f.Class] = true
		if f.Price < 0 || f.Capacity < 0 {
			return fmt.Errorf("%w: schedule %s has a negative %s fare", models.ErrInvalidArgument, s.ID, f.Class)
		}
	}
	if s.Status == "" {
		s.Status = models.ScheduleActive
	}
	s.DepartureTime = s.DepartureTime.UTC().Truncate(time.Microsecond)
	s.ArrivalTime = s.ArrivalTime.UTC().Truncate(time.Microsecond)
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now()
	}
	return nil
}

func priceMap(fares []models.Fare) map[models.FareClass]models.Money {
	prices := make(map[models.FareClass]models.Money, len(fares))
	for _, f := range fares {
		prices[f.Class] = f.Price
	}
	return prices
}
