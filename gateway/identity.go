package gateway

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// FailingIDNumber is always rejected by SimulatedIdentity
const FailingIDNumber = "FAIL_ID_12345"

// residentID matches the 18-character resident identity number shape
var residentID = regexp.MustCompile(`^[0-9]{17}[0-9X]$`)

// SimulatedIdentity checks the shape of identity numbers after Latency
type SimulatedIdentity struct {
	Latency time.Duration
	Logger  *logrus.Logger
}

// NewSimulatedIdentity creates an identity gateway
func NewSimulatedIdentity(latency time.Duration, logger *logrus.Logger) *SimulatedIdentity {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SimulatedIdentity{Latency: latency, Logger: logger}
}

// Verify reports whether name and idNumber identify a real person
func (g *SimulatedIdentity) Verify(ctx context.Context, name, idNumber string) (bool, error) {
	if err := wait(ctx, g.Latency); err != nil {
		return false, err
	}

	idNumber = strings.ToUpper(strings.TrimSpace(idNumber))
	ok := strings.TrimSpace(name) != "" && idNumber != FailingIDNumber && residentID.MatchString(idNumber)

	g.Logger.WithFields(logrus.Fields{"passenger": name, "verified": ok}).Debug("Identity verification finished")
	return ok, nil
}
