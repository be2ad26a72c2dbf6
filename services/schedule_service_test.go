package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"train-ticketing/ledger"
	"train-ticketing/models"
	"train-ticketing/store"
)

func newScheduleService() *ScheduleService {
	svc := NewScheduleService(store.NewMemory(), ledger.NewMemory(), quietLogger())
	svc.Location = time.UTC
	svc.RegisterStations(
		models.Station{Code: "BJP", Name: "Beijing South", City: "Beijing"},
		models.Station{Code: "AOH", Name: "Shanghai Hongqiao", City: "Shanghai"},
		models.Station{Code: "SHH", Name: "Shanghai", City: "Shanghai"},
		models.Station{Code: "NKH", Name: "Nanjing South", City: "Nanjing"},
	)
	return svc
}

func addRun(t *testing.T, svc *ScheduleService, train, from, to string, departure time.Time, fares ...models.Fare) *models.TrainSchedule {
	s := &models.TrainSchedule{
		TrainNumber:      train,
		DepartureStation: from,
		ArrivalStation:   to,
		DepartureTime:    departure,
		ArrivalTime:      departure.Add(5 * time.Hour),
	}
	require.NoError(t, svc.AddSchedule(context.Background(), s, fares))
	return s
}

func TestDefaultFares(t *testing.T) {
	fares := DefaultFares()
	require.Len(t, fares, len(models.FareClasses))

	byClass := map[models.FareClass]models.Fare{}
	for _, f := range fares {
		byClass[f.Class] = f
	}
	assert.Equal(t, models.Yuan(1800), byClass[models.BusinessClass].Price)
	assert.Equal(t, 20, byClass[models.BusinessClass].Capacity)
	assert.Equal(t, models.Yuan(960), byClass[models.FirstClass].Price)
	assert.Equal(t, models.Yuan(550), byClass[models.SecondClass].Price)
	assert.Equal(t, 120, byClass[models.SecondClass].Capacity)
	assert.Equal(t, models.Yuan(320), byClass[models.HardSleeper].Price)
	assert.Equal(t, models.Yuan(150), byClass[models.HardSeat].Price)

	only := DefaultFares(models.HardSeat)
	require.Len(t, only, 1)
	assert.Equal(t, 150, only[0].Capacity)
}

func TestAddScheduleProvisionsLedger(t *testing.T) {
	ctx := context.Background()
	svc := newScheduleService()
	departure := time.Date(2030, 5, 1, 8, 0, 0, 0, time.UTC)

	s := addRun(t, svc, "G1", "Beijing South", "Shanghai Hongqiao", departure)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, 120, s.Available[models.SecondClass])

	got, err := svc.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleActive, got.Status)
	assert.Len(t, got.Prices, len(models.FareClasses))
	assert.Equal(t, 20, got.Available[models.BusinessClass])

	ok, err := svc.ledger.TryReserve(ctx, s.ID, models.BusinessClass, 3)
	require.NoError(t, err)
	require.True(t, ok)
	got, err = svc.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 17, got.Available[models.BusinessClass])

	_, err = svc.GetSchedule(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAddScheduleRejectsBadInput(t *testing.T) {
	svc := newScheduleService()
	departure := time.Date(2030, 5, 1, 8, 0, 0, 0, time.UTC)

	err := svc.AddSchedule(context.Background(), &models.TrainSchedule{
		TrainNumber: "G1", DepartureStation: "A", ArrivalStation: "B",
		DepartureTime: departure, ArrivalTime: departure.Add(time.Hour),
	}, []models.Fare{{Class: "Standing", Price: models.Yuan(10), Capacity: 5}})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	err = svc.AddSchedule(context.Background(), &models.TrainSchedule{
		TrainNumber: "G1", DepartureStation: "A", ArrivalStation: "B",
		DepartureTime: departure, ArrivalTime: departure.Add(-time.Hour),
	}, nil)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestFindStationByNameOrCode(t *testing.T) {
	svc := newScheduleService()

	tests := []struct {
		query string
		want  string
	}{
		{"BJP", "Beijing South"},
		{"aoh", "Shanghai Hongqiao"},
		{"Shanghai", "Shanghai"},
		{"nanjing", "Nanjing South"},
		{"hongqiao", "Shanghai Hongqiao"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			st, err := svc.FindStationByNameOrCode(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, st.Name)
		})
	}

	_, err := svc.FindStationByNameOrCode("Xian")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = svc.FindStationByNameOrCode(" ")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	stations := svc.GetAllStations()
	require.Len(t, stations, 4)
	assert.Equal(t, "Beijing South", stations[0].Name)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	svc := newScheduleService()
	day := time.Date(2030, 5, 1, 0, 0, 0, 0, time.UTC)

	morning := addRun(t, svc, "G1", "Beijing South", "Shanghai Hongqiao", day.Add(7*time.Hour), fare(models.SecondClass, 550, 1))
	evening := addRun(t, svc, "G9", "Beijing South", "Shanghai Hongqiao", day.Add(19*time.Hour), fare(models.SecondClass, 500, 10))
	addRun(t, svc, "G3", "Beijing South", "Shanghai Hongqiao", day.Add(31*time.Hour))
	addRun(t, svc, "G7", "Beijing South", "Nanjing South", day.Add(9*time.Hour))

	found, err := svc.Search(ctx, models.ScheduleSearchRequest{From: "BJP", To: "hongqiao", Date: "2030-05-01"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, morning.ID, found[0].ID)
	assert.Equal(t, evening.ID, found[1].ID)
	assert.Equal(t, 1, found[0].Available[models.SecondClass])

	found, err = svc.Search(ctx, models.ScheduleSearchRequest{From: "BJP", To: "AOH", Date: "2030-05-01", TimePreference: "evening"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, evening.ID, found[0].ID)

	ok, err := svc.ledger.TryReserve(ctx, morning.ID, models.SecondClass, 1)
	require.NoError(t, err)
	require.True(t, ok)
	found, err = svc.Search(ctx, models.ScheduleSearchRequest{From: "BJP", To: "AOH", Date: "2030-05-01", FareClass: "second"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, evening.ID, found[0].ID)

	_, err = svc.Search(ctx, models.ScheduleSearchRequest{From: "BJP", Date: "01/05/2030"})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
	_, err = svc.Search(ctx, models.ScheduleSearchRequest{From: "BJP", TimePreference: "midnight"})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	found, err = svc.Search(ctx, models.ScheduleSearchRequest{From: "Xian", Date: "2030-05-01"})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()
	svc := newScheduleService()
	s := addRun(t, svc, "G1", "Beijing South", "Shanghai Hongqiao", time.Date(2030, 5, 1, 8, 0, 0, 0, time.UTC))

	require.NoError(t, svc.SetStatus(ctx, s.ID, models.ScheduleSuspended))
	got, err := svc.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleSuspended, got.Status)

	assert.ErrorIs(t, svc.SetStatus(ctx, s.ID, "Delayed"), models.ErrInvalidArgument)
	assert.ErrorIs(t, svc.SetStatus(ctx, "missing", models.ScheduleActive), models.ErrNotFound)
}
