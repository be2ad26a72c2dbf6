// Package seed loads a YAML catalog of stations, trains and passengers and
// applies it through the services, so seeded schedules get their seat
// inventory exactly like schedules added at runtime.
package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"train-ticketing/models"
	"train-ticketing/services"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is the seed file
type Catalog struct {
	Stations   []models.Station   `yaml:"stations"`
	Trains     []Train            `yaml:"trains"`
	Passengers []models.Passenger `yaml:"passengers"`

	// Start is the first service day; tomorrow when empty
	Start string `yaml:"start"`
}

// Train is a daily service between two stations
type Train struct {
	Number   string        `yaml:"number"`
	From     string        `yaml:"from"`
	To       string        `yaml:"to"`
	Departs  string        `yaml:"departs"`
	Duration time.Duration `yaml:"duration"`
	Days     int           `yaml:"days"`
	Fares    []Fare        `yaml:"fares"`
}

// Fare is one class on a train. Price is in yuan, e.g. "553.00".
type Fare struct {
	Class    string `yaml:"class"`
	Price    string `yaml:"price"`
	Capacity int    `yaml:"capacity"`
}

// Summary counts what Apply created
type Summary struct {
	Stations   int
	Schedules  int
	Passengers int
	Skipped    int
}

// Default returns the embedded demo catalog
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// LoadCatalog reads a catalog from disk
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: invalid seed catalog: %v", models.ErrInvalidArgument, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every train before anything is written
func (c *Catalog) Validate() error {
	if c.Start != "" {
		if _, err := time.Parse("2006-01-02", c.Start); err != nil {
			return fmt.Errorf("%w: seed start must be YYYY-MM-DD, got %q", models.ErrInvalidArgument, c.Start)
		}
	}
	for _, t := range c.Trains {
		if t.Number == "" || t.From == "" || t.To == "" {
			return fmt.Errorf("%w: train needs a number and both stations", models.ErrInvalidArgument)
		}
		if _, err := time.Parse("15:04", t.Departs); err != nil {
			return fmt.Errorf("%w: train %s departs %q, want HH:MM", models.ErrInvalidArgument, t.Number, t.Departs)
		}
		if t.Duration <= 0 {
			return fmt.Errorf("%w: train %s needs a positive duration", models.ErrInvalidArgument, t.Number)
		}
		if _, err := t.fares(); err != nil {
			return err
		}
	}
	return nil
}

// fares resolves the train's classes, filling gaps from the standard table
func (t Train) fares() ([]models.Fare, error) {
	if len(t.Fares) == 0 {
		return services.DefaultFares(), nil
	}
	out := make([]models.Fare, 0, len(t.Fares))
	for _, f := range t.Fares {
		class, err := models.ParseFareClass(f.Class)
		if err != nil {
			return nil, fmt.Errorf("train %s: %w", t.Number, err)
		}
		fare := services.DefaultFares(class)[0]
		if f.Price != "" {
			if fare.Price, err = models.ParseMoney(f.Price); err != nil {
				return nil, fmt.Errorf("train %s: %w", t.Number, err)
			}
		}
		if f.Capacity > 0 {
			fare.Capacity = f.Capacity
		}
		out = append(out, fare)
	}
	return out, nil
}

func (c *Catalog) firstDay(loc *time.Location, now time.Time) time.Time {
	if c.Start != "" {
		day, _ := time.ParseInLocation("2006-01-02", c.Start, loc)
		return day
	}
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// Apply registers the catalog. Records that already exist are skipped, so
// applying the same catalog twice is harmless.
func (c *Catalog) Apply(ctx context.Context, schedules *services.ScheduleService, passengers *services.PassengerService, logger *logrus.Logger) (*Summary, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	summary := &Summary{}

	schedules.RegisterStations(c.Stations...)
	summary.Stations = len(c.Stations)

	loc := schedules.Location
	first := c.firstDay(loc, time.Now())
	for _, t := range c.Trains {
		fares, err := t.fares()
		if err != nil {
			return summary, err
		}
		clock, _ := time.Parse("15:04", t.Departs)
		days := t.Days
		if days <= 0 {
			days = 1
		}

		for i := 0; i < days; i++ {
			day := first.AddDate(0, 0, i)
			departure := time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
			schedule := &models.TrainSchedule{
				ID:               fmt.Sprintf("%s-%s", t.Number, day.Format("20060102")),
				TrainNumber:      t.Number,
				DepartureStation: t.From,
				ArrivalStation:   t.To,
				DepartureTime:    departure,
				ArrivalTime:      departure.Add(t.Duration),
			}
			err := schedules.AddSchedule(ctx, schedule, fares)
			if errors.Is(err, models.ErrStateConflict) {
				summary.Skipped++
				continue
			}
			if err != nil {
				return summary, fmt.Errorf("failed to seed schedule %s: %w", schedule.ID, err)
			}
			summary.Schedules++
		}
	}

	for _, p := range c.Passengers {
		_, err := passengers.Add(ctx, p.UserID, models.PassengerCreateRequest{
			Name:      p.Name,
			IDNumber:  strings.TrimSpace(p.IDNumber),
			Phone:     p.Phone,
			IsDefault: p.IsDefault,
		})
		if errors.Is(err, models.ErrStateConflict) {
			summary.Skipped++
			continue
		}
		if err != nil {
			return summary, fmt.Errorf("failed to seed passenger %s: %w", p.Name, err)
		}
		summary.Passengers++
	}

	logger.WithFields(logrus.Fields{
		"stations":   summary.Stations,
		"schedules":  summary.Schedules,
		"passengers": summary.Passengers,
		"skipped":    summary.Skipped,
	}).Info("Seed catalog applied")
	return summary, nil
}
