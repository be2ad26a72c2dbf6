package services

import (
	"fmt"
	"sync"

	"train-ticketing/models"
)

const (
	seatsPerRow     = 5
	rowsPerCoach    = 20
	seatsPerCoach   = seatsPerRow * rowsPerCoach
	seatLetters     = "ABCDF"
	coachesPerTrain = 16
)

// firstCoach places each class in its own block of coaches
var firstCoach = map[models.FareClass]int{
	models.BusinessClass: 1,
	models.FirstClass:    2,
	models.SecondClass:   4,
	models.HardSleeper:   9,
	models.HardSeat:      12,
}

// SeatAssigner hands out seat labels in order per (schedule, class). Labels
// are cosmetic: the ledger alone decides whether a seat exists.
type SeatAssigner struct {
	mu   sync.Mutex
	next map[string]int
}

// NewSeatAssigner returns an assigner with every counter at zero
func NewSeatAssigner() *SeatAssigner {
	return &SeatAssigner{next: make(map[string]int)}
}

// Assign returns a label such as "04-03C"
func (a *SeatAssigner) Assign(scheduleID string, class models.FareClass) string {
	key := scheduleID + "/" + string(class)

	a.mu.Lock()
	n := a.next[key]
	a.next[key] = n + 1
	a.mu.Unlock()

	coach := firstCoach[class]
	if coach == 0 {
		coach = 1
	}
	coach = (coach-1+n/seatsPerCoach)%coachesPerTrain + 1
	row := (n%seatsPerCoach)/seatsPerRow + 1
	return fmt.Sprintf("%02d-%02d%c", coach, row, seatLetters[n%seatsPerRow])
}
