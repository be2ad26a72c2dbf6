package models

import (
	"fmt"
	"strings"
	"time"
)

// FareClass is a priced seating category on a schedule
type FareClass string

const (
	BusinessClass FareClass = "BusinessClass"
	FirstClass    FareClass = "FirstClass"
	SecondClass   FareClass = "SecondClass"
	HardSleeper   FareClass = "HardSleeper"
	HardSeat      FareClass = "HardSeat"
)

// FareClasses lists every known class, most expensive first
var FareClasses = []FareClass{BusinessClass, FirstClass, SecondClass, HardSleeper, HardSeat}

var fareClassAliases = map[string]FareClass{
	"businessclass":  BusinessClass,
	"business":       BusinessClass,
	"business_class": BusinessClass,
	"firstclass":     FirstClass,
	"first":          FirstClass,
	"first_class":    FirstClass,
	"secondclass":    SecondClass,
	"second":         SecondClass,
	"second_class":   SecondClass,
	"hardsleeper":    HardSleeper,
	"hard_sleeper":   HardSleeper,
	"hardseat":       HardSeat,
	"hard_seat":      HardSeat,
}

// ParseFareClass resolves a fare class name, case-insensitively
func ParseFareClass(s string) (FareClass, error) {
	class, ok := fareClassAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: unknown fare class %q", ErrInvalidArgument, s)
	}
	return class, nil
}

// ScheduleStatus describes whether a train run is still bookable
type ScheduleStatus string

const (
	ScheduleActive    ScheduleStatus = "Active"
	ScheduleSuspended ScheduleStatus = "Suspended"
	ScheduleCancelled ScheduleStatus = "Cancelled"
)

// TrainSchedule is a specific train run between two stations
type TrainSchedule struct {
	ID               string              `json:"id" yaml:"id"`
	TrainNumber      string              `json:"train_number" yaml:"train_number"`
	DepartureStation string              `json:"departure_station" yaml:"departure_station"`
	ArrivalStation   string              `json:"arrival_station" yaml:"arrival_station"`
	DepartureTime    time.Time           `json:"departure_time" yaml:"departure_time"`
	ArrivalTime      time.Time           `json:"arrival_time" yaml:"arrival_time"`
	Status           ScheduleStatus      `json:"status" yaml:"status"`
	Available        map[FareClass]int   `json:"available" yaml:"-"`
	Prices           map[FareClass]Money `json:"prices" yaml:"-"`
	CreatedAt        time.Time           `json:"created_at" yaml:"-"`
}

// Offers reports whether the class is priced on this schedule
func (s *TrainSchedule) Offers(class FareClass) bool {
	_, ok := s.Prices[class]
	return ok
}

// Bookable reports whether tickets may still be sold at the given instant
func (s *TrainSchedule) Bookable(now time.Time) error {
	if s.Status != ScheduleActive {
		return fmt.Errorf("%w: schedule %s is %s", ErrStateConflict, s.ID, s.Status)
	}
	if !s.DepartureTime.IsZero() && !now.Before(s.DepartureTime) {
		return fmt.Errorf("%w: schedule %s has already departed", ErrInvalidArgument, s.ID)
	}
	return nil
}

// Fare provisions one class on a schedule
type Fare struct {
	Class    FareClass `json:"class" yaml:"class"`
	Price    Money     `json:"price" yaml:"price"`
	Capacity int       `json:"capacity" yaml:"capacity"`
}

// ScheduleQuery filters schedules; empty fields match everything
type ScheduleQuery struct {
	DepartureStation string
	ArrivalStation   string
	// Date restricts departures to one calendar day in the schedule's location
	Date time.Time
}
