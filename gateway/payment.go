// Package gateway simulates the external payment and identity services.
// Both sleep for a configurable latency and honour context cancellation, so
// callers exercise the same timeout paths they would against a real provider.
package gateway

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"train-ticketing/models"
)

// SimulatedPayment approves charges and refunds after Latency. A FailRate
// between 0 and 1 declines that share of calls at random.
type SimulatedPayment struct {
	Latency  time.Duration
	FailRate float64
	Logger   *logrus.Logger

	mu   sync.Mutex
	rand *rand.Rand
}

// NewSimulatedPayment creates a payment gateway with its own random source
func NewSimulatedPayment(latency time.Duration, failRate float64, logger *logrus.Logger) *SimulatedPayment {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SimulatedPayment{
		Latency:  latency,
		FailRate: failRate,
		Logger:   logger,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *SimulatedPayment) declined() bool {
	if p.FailRate <= 0 {
		return false
	}
	if p.FailRate >= 1 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rand == nil {
		p.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return p.rand.Float64() < p.FailRate
}

func (p *SimulatedPayment) call(ctx context.Context, op, reference string, amount models.Money) (bool, error) {
	if err := wait(ctx, p.Latency); err != nil {
		p.Logger.WithFields(logrus.Fields{"reference": reference, "amount": amount.String()}).
			Warnf("Payment %s abandoned: %v", op, err)
		return false, err
	}
	ok := !p.declined()
	p.Logger.WithFields(logrus.Fields{
		"reference": reference,
		"amount":    amount.String(),
		"approved":  ok,
	}).Infof("Payment %s processed", op)
	return ok, nil
}

// Charge collects amount under the given reference
func (p *SimulatedPayment) Charge(ctx context.Context, reference string, amount models.Money) (bool, error) {
	return p.call(ctx, "charge", reference, amount)
}

// Refund returns amount previously charged under the reference
func (p *SimulatedPayment) Refund(ctx context.Context, reference string, amount models.Money) (bool, error) {
	return p.call(ctx, "refund", reference, amount)
}

// wait sleeps for d unless ctx ends first
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
