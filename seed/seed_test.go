package seed

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"train-ticketing/ledger"
	"train-ticketing/models"
	"train-ticketing/policy"
	"train-ticketing/services"
	"train-ticketing/store"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newServices(t *testing.T) (*services.ScheduleService, *services.PassengerService) {
	authz, err := policy.New(context.Background())
	require.NoError(t, err)
	records := store.NewMemory()
	schedules := services.NewScheduleService(records, ledger.NewMemory(), quietLogger())
	schedules.Location = time.UTC
	return schedules, services.NewPassengerService(records, authz, quietLogger())
}

func TestDefaultCatalogParses(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	assert.NotEmpty(t, c.Stations)
	assert.NotEmpty(t, c.Trains)
	assert.NotEmpty(t, c.Passengers)

	for _, tr := range c.Trains {
		assert.Positive(t, tr.Duration, tr.Number)
	}
}

const smallCatalog = `
start: "2030-06-01"
stations:
  - {code: BJP, name: Beijing South, city: Beijing}
  - {code: AOH, name: Shanghai Hongqiao, city: Shanghai}
trains:
  - number: G1
    from: Beijing South
    to: Shanghai Hongqiao
    departs: "07:00"
    duration: 4h28m
    days: 2
    fares:
      - {class: SecondClass, price: "553.00", capacity: 3}
      - {class: first}
passengers:
  - {user_id: demo, name: Zhang San, id_number: "110101199003074258"}
`

func TestApply(t *testing.T) {
	ctx := context.Background()
	schedules, passengers := newServices(t)

	c, err := Parse([]byte(smallCatalog))
	require.NoError(t, err)

	summary, err := c.Apply(ctx, schedules, passengers, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, &Summary{Stations: 2, Schedules: 2, Passengers: 1}, summary)

	s, err := schedules.GetSchedule(ctx, "G1-20300602")
	require.NoError(t, err)
	assert.True(t, time.Date(2030, 6, 2, 7, 0, 0, 0, time.UTC).Equal(s.DepartureTime), s.DepartureTime)
	assert.True(t, time.Date(2030, 6, 2, 11, 28, 0, 0, time.UTC).Equal(s.ArrivalTime), s.ArrivalTime)
	assert.Equal(t, models.Yuan(553), s.Prices[models.SecondClass])
	assert.Equal(t, 3, s.Available[models.SecondClass])
	assert.Equal(t, models.Yuan(960), s.Prices[models.FirstClass])
	assert.Equal(t, 60, s.Available[models.FirstClass])
	assert.False(t, s.Offers(models.BusinessClass))

	found, err := schedules.Search(ctx, models.ScheduleSearchRequest{From: "BJP", To: "AOH", Date: "2030-06-01"})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	list, err := passengers.List(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsDefault)

	// Applying again changes nothing
	summary, err = c.Apply(ctx, schedules, passengers, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, &Summary{Stations: 2, Skipped: 3}, summary)
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(smallCatalog), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, "2030-06-01", c.Start)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseRejectsBadCatalogs(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not yaml", "trains: [unterminated"},
		{"bad start", "start: tomorrow"},
		{"bad clock", "trains: [{number: G1, from: A, to: B, departs: '7am', duration: 1h}]"},
		{"no duration", "trains: [{number: G1, from: A, to: B, departs: '07:00'}]"},
		{"no station", "trains: [{number: G1, from: A, departs: '07:00', duration: 1h}]"},
		{"bad class", "trains: [{number: G1, from: A, to: B, departs: '07:00', duration: 1h, fares: [{class: deck}]}]"},
		{"bad price", "trains: [{number: G1, from: A, to: B, departs: '07:00', duration: 1h, fares: [{class: first, price: cheap}]}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			assert.ErrorIs(t, err, models.ErrInvalidArgument)
		})
	}
}
