package ledger

import (
	"context"
	"sync"

	"train-ticketing/models"
)

type cell struct {
	mu        sync.Mutex
	available int
}

// Memory is an in-process ledger. Each cell has its own mutex; the cell
// table lock is only held to find or create a cell, never while counting.
type Memory struct {
	mu    sync.RWMutex
	cells map[Key]*cell
}

// NewMemory returns an empty in-process ledger
func NewMemory() *Memory {
	return &Memory{cells: make(map[Key]*cell)}
}

func (l *Memory) lookup(scheduleID string, class models.FareClass) (*cell, error) {
	l.mu.RLock()
	c, ok := l.cells[Key{ScheduleID: scheduleID, FareClass: class}]
	l.mu.RUnlock()
	if !ok {
		return nil, unknownCell(scheduleID, class)
	}
	return c, nil
}

// Provision creates the cell or overwrites its count
func (l *Memory) Provision(_ context.Context, scheduleID string, class models.FareClass, count int) error {
	if err := checkCount(count); err != nil {
		return err
	}
	key := Key{ScheduleID: scheduleID, FareClass: class}

	l.mu.Lock()
	c, ok := l.cells[key]
	if !ok {
		c = &cell{}
		l.cells[key] = c
	}
	l.mu.Unlock()

	c.mu.Lock()
	c.available = count
	c.mu.Unlock()
	return nil
}

// TryReserve decrements the cell by n iff at least n seats remain
func (l *Memory) TryReserve(ctx context.Context, scheduleID string, class models.FareClass, n int) (bool, error) {
	if err := checkUnits(n); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c, err := l.lookup(scheduleID, class)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.available < n {
		return false, nil
	}
	c.available -= n
	return true, nil
}

// Release increments the cell by n
func (l *Memory) Release(_ context.Context, scheduleID string, class models.FareClass, n int) error {
	if err := checkUnits(n); err != nil {
		return err
	}
	c, err := l.lookup(scheduleID, class)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.available += n
	c.mu.Unlock()
	return nil
}

// Available returns the current count of the cell
func (l *Memory) Available(_ context.Context, scheduleID string, class models.FareClass) (int, error) {
	c, err := l.lookup(scheduleID, class)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available, nil
}
