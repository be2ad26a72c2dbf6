// Package ledger holds per (schedule, fare class) seat counts. Every backend
// offers the same atomic check-and-decrement: TryReserve succeeds only when
// at least n seats remain, and never drives a count negative.
//
// A reservation that fails for lack of seats returns (false, nil). A cell
// that was never provisioned returns ErrUnknownCell, which wraps
// models.ErrNotFound.
package ledger

import (
	"fmt"

	"train-ticketing/models"
)

// ErrUnknownCell is returned for a (schedule, fare class) that was never provisioned
var ErrUnknownCell = fmt.Errorf("%w: unknown seat inventory cell", models.ErrNotFound)

// Key identifies one inventory cell
type Key struct {
	ScheduleID string
	FareClass  models.FareClass
}

func (k Key) String() string {
	return k.ScheduleID + "/" + string(k.FareClass)
}

func unknownCell(scheduleID string, class models.FareClass) error {
	return fmt.Errorf("%w: %s/%s", ErrUnknownCell, scheduleID, class)
}

func checkUnits(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: seat units must be positive, got %d", models.ErrInvalidArgument, n)
	}
	return nil
}

func checkCount(count int) error {
	if count < 0 {
		return fmt.Errorf("%w: seat count must not be negative, got %d", models.ErrInvalidArgument, count)
	}
	return nil
}
