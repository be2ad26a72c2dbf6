package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"train-ticketing/models"
)

// fareDefault provisions a class when a schedule is added without fares
type fareDefault struct {
	base     models.Money
	percent  int64
	capacity int
}

var fareDefaults = map[models.FareClass]fareDefault{
	models.BusinessClass: {base: models.Yuan(1200), percent: 150, capacity: 20},
	models.FirstClass:    {base: models.Yuan(800), percent: 120, capacity: 60},
	models.SecondClass:   {base: models.Yuan(550), percent: 100, capacity: 120},
	models.HardSleeper:   {base: models.Yuan(400), percent: 80, capacity: 90},
	models.HardSeat:      {base: models.Yuan(250), percent: 60, capacity: 150},
}

// DefaultFares returns the standard price and capacity of each class; all
// classes when none are given
func DefaultFares(classes ...models.FareClass) []models.Fare {
	if len(classes) == 0 {
		classes = models.FareClasses
	}
	fares := make([]models.Fare, 0, len(classes))
	for _, class := range classes {
		d, ok := fareDefaults[class]
		if !ok {
			continue
		}
		fares = append(fares, models.Fare{Class: class, Price: d.base.Scale(d.percent), Capacity: d.capacity})
	}
	return fares
}

// ScheduleService manages the timetable and reports live seat availability
type ScheduleService struct {
	store  ScheduleStore
	ledger SeatLedger
	logger *logrus.Logger

	// Location interprets search dates
	Location *time.Location

	mu       sync.RWMutex
	stations map[string]models.Station
}

// NewScheduleService creates a schedule service
func NewScheduleService(store ScheduleStore, ledger SeatLedger, logger *logrus.Logger) *ScheduleService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ScheduleService{
		store:    store,
		ledger:   ledger,
		logger:   logger,
		Location: time.Local,
		stations: make(map[string]models.Station),
	}
}

// RegisterStations adds stations used to resolve search terms
func (s *ScheduleService) RegisterStations(stations ...models.Station) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range stations {
		s.stations[strings.ToUpper(st.Code)] = st
	}
}

// GetAllStations returns every registered station ordered by name
func (s *ScheduleService) GetAllStations() []models.Station {
	s.mu.RLock()
	out := make([]models.Station, 0, len(s.stations))
	for _, st := range s.stations {
		out = append(out, st)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FindStationByNameOrCode resolves a code exactly, then a name or city by substring
func (s *ScheduleService) FindStationByNameOrCode(query string) (*models.Station, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty station", models.ErrInvalidArgument)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Try exact code match first
	if st, ok := s.stations[strings.ToUpper(query)]; ok {
		return &st, nil
	}

	var matches []models.Station
	lower := strings.ToLower(query)
	for _, st := range s.stations {
		if strings.EqualFold(st.Name, query) {
			return &st, nil
		}
		if strings.Contains(strings.ToLower(st.Name), lower) || strings.Contains(strings.ToLower(st.City), lower) {
			matches = append(matches, st)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: station %s", models.ErrNotFound, query)
	}
	sort.Slice(matches, func(i, j int) bool { return len(matches[i].Name) < len(matches[j].Name) })
	return &matches[0], nil
}

// resolveStation maps a search term onto the station name stored on
// schedules; unknown terms are used verbatim
func (s *ScheduleService) resolveStation(term string) string {
	if term == "" {
		return ""
	}
	st, err := s.FindStationByNameOrCode(term)
	if err != nil {
		return strings.TrimSpace(term)
	}
	return st.Name
}

// AddSchedule stores a schedule and provisions its seats. Fares default to
// DefaultFares when none are given.
func (s *ScheduleService) AddSchedule(ctx context.Context, schedule *models.TrainSchedule, fares []models.Fare) error {
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	if len(fares) == 0 {
		fares = DefaultFares()
	}
	for _, f := range fares {
		if _, err := models.ParseFareClass(string(f.Class)); err != nil {
			return err
		}
	}

	if err := s.store.CreateSchedule(ctx, schedule, fares); err != nil {
		return err
	}
	for _, f := range fares {
		if err := s.ledger.Provision(ctx, schedule.ID, f.Class, f.Capacity); err != nil {
			return fmt.Errorf("failed to provision %s on schedule %s: %w", f.Class, schedule.ID, err)
		}
	}

	schedule.Available = make(map[models.FareClass]int, len(fares))
	for _, f := range fares {
		schedule.Available[f.Class] = f.Capacity
	}

	s.logger.WithFields(logrus.Fields{
		"schedule_id": schedule.ID,
		"train":       schedule.TrainNumber,
		"classes":     len(fares),
	}).Infof("Schedule added: %s %s -> %s", schedule.TrainNumber, schedule.DepartureStation, schedule.ArrivalStation)
	return nil
}

func (s *ScheduleService) attachAvailability(ctx context.Context, schedule *models.TrainSchedule) error {
	schedule.Available = make(map[models.FareClass]int, len(schedule.Prices))
	for class := range schedule.Prices {
		n, err := s.ledger.Available(ctx, schedule.ID, class)
		if errors.Is(err, models.ErrNotFound) {
			s.logger.WithFields(logrus.Fields{"schedule_id": schedule.ID, "fare_class": class}).
				Warn("Priced class has no seat inventory")
			n, err = 0, nil
		}
		if err != nil {
			return err
		}
		schedule.Available[class] = n
	}
	return nil
}

// GetSchedule returns a schedule with prices and live availability
func (s *ScheduleService) GetSchedule(ctx context.Context, id string) (*models.TrainSchedule, error) {
	schedule, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.attachAvailability(ctx, schedule); err != nil {
		return nil, err
	}
	return schedule, nil
}

func matchesTimePreference(departure time.Time, preference string) (bool, error) {
	hour := departure.Hour()
	switch strings.ToLower(preference) {
	case "", "any":
		return true, nil
	case "morning":
		return hour >= 6 && hour < 12, nil
	case "afternoon":
		return hour >= 12 && hour < 18, nil
	case "evening":
		return hour >= 18, nil
	default:
		return false, fmt.Errorf("%w: unknown time preference %q", models.ErrInvalidArgument, preference)
	}
}

// Search finds schedules between two stations on a date
func (s *ScheduleService) Search(ctx context.Context, req models.ScheduleSearchRequest) ([]models.TrainSchedule, error) {
	q := models.ScheduleQuery{
		DepartureStation: s.resolveStation(req.From),
		ArrivalStation:   s.resolveStation(req.To),
	}
	if req.Date != "" {
		date, err := time.ParseInLocation("2006-01-02", req.Date, s.Location)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD, got %q", models.ErrInvalidArgument, req.Date)
		}
		q.Date = date
	}
	if _, err := matchesTimePreference(time.Time{}, req.TimePreference); err != nil {
		return nil, err
	}
	var class models.FareClass
	if req.FareClass != "" {
		var err error
		if class, err = models.ParseFareClass(req.FareClass); err != nil {
			return nil, err
		}
	}

	s.logger.WithFields(logrus.Fields{
		"from": q.DepartureStation,
		"to":   q.ArrivalStation,
		"date": req.Date,
	}).Debug("Searching schedules")

	found, err := s.store.SearchSchedules(ctx, q)
	if err != nil {
		return nil, err
	}

	results := make([]models.TrainSchedule, 0, len(found))
	for i := range found {
		schedule := &found[i]
		if ok, _ := matchesTimePreference(schedule.DepartureTime.In(s.Location), req.TimePreference); !ok {
			continue
		}
		if err := s.attachAvailability(ctx, schedule); err != nil {
			return nil, err
		}
		if class != "" && schedule.Available[class] == 0 {
			continue
		}
		results = append(results, *schedule)
	}
	return results, nil
}

// SetStatus suspends, cancels or reactivates a schedule
func (s *ScheduleService) SetStatus(ctx context.Context, id string, status models.ScheduleStatus) error {
	switch status {
	case models.ScheduleActive, models.ScheduleSuspended, models.ScheduleCancelled:
	default:
		return fmt.Errorf("%w: unknown schedule status %q", models.ErrInvalidArgument, status)
	}
	if err := s.store.UpdateScheduleStatus(ctx, id, status); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"schedule_id": id, "status": status}).Info("Schedule status changed")
	return nil
}
