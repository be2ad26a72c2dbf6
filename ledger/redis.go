package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"train-ticketing/models"
)

// reserveScript returns -1 for a missing cell, 0 when short of seats, 1 on success
var reserveScript = redis.NewScript(`
local available = redis.call('GET', KEYS[1])
if not available then
	return -1
end
if tonumber(available) < tonumber(ARGV[1]) then
	return 0
end
redis.call('DECRBY', KEYS[1], ARGV[1])
return 1
`)

// releaseScript returns -1 for a missing cell, otherwise the new count
var releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
return redis.call('INCRBY', KEYS[1], ARGV[1])
`)

// Redis keeps one integer key per cell. Check-and-decrement runs as a Lua
// script so it is atomic on the server.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis wraps a client; keys are "<prefix>seat:<schedule>:<class>"
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (l *Redis) key(scheduleID string, class models.FareClass) string {
	return fmt.Sprintf("%sseat:%s:%s", l.prefix, scheduleID, class)
}

// Provision creates the cell or overwrites its count
func (l *Redis) Provision(ctx context.Context, scheduleID string, class models.FareClass, count int) error {
	if err := checkCount(count); err != nil {
		return err
	}
	if err := l.client.Set(ctx, l.key(scheduleID, class), count, 0).Err(); err != nil {
		return fmt.Errorf("failed to provision seats: %w", err)
	}
	return nil
}

// TryReserve decrements the cell by n iff at least n seats remain
func (l *Redis) TryReserve(ctx context.Context, scheduleID string, class models.FareClass, n int) (bool, error) {
	if err := checkUnits(n); err != nil {
		return false, err
	}
	result, err := reserveScript.Run(ctx, l.client, []string{l.key(scheduleID, class)}, n).Int()
	if err != nil {
		return false, fmt.Errorf("failed to reserve seats: %w", err)
	}
	switch result {
	case -1:
		return false, unknownCell(scheduleID, class)
	case 0:
		return false, nil
	default:
		return true, nil
	}
}

// Release increments the cell by n
func (l *Redis) Release(ctx context.Context, scheduleID string, class models.FareClass, n int) error {
	if err := checkUnits(n); err != nil {
		return err
	}
	result, err := releaseScript.Run(ctx, l.client, []string{l.key(scheduleID, class)}, n).Int()
	if err != nil {
		return fmt.Errorf("failed to release seats: %w", err)
	}
	if result == -1 {
		return unknownCell(scheduleID, class)
	}
	return nil
}

// Available returns the current count of the cell
func (l *Redis) Available(ctx context.Context, scheduleID string, class models.FareClass) (int, error) {
	count, err := l.client.Get(ctx, l.key(scheduleID, class)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, unknownCell(scheduleID, class)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read seat availability: %w", err)
	}
	return count, nil
}
