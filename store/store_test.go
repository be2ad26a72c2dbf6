package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"train-ticketing/database"
	"train-ticketing/models"
)

type recordStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error)
	UpdateOrder(ctx context.Context, t models.OrderTransition) error

	CreateTicket(ctx context.Context, ticket *models.Ticket) error
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	ListTicketsByUser(ctx context.Context, userID string) ([]models.Ticket, error)
	ListTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error)
	ListTicketsByStatus(ctx context.Context, status models.TicketStatus, updatedBefore time.Time) ([]models.Ticket, error)
	CountTicketsByPassenger(ctx context.Context, passengerID string) (int, error)
	UpdateTicket(ctx context.Context, t models.TicketTransition) error

	CreatePassenger(ctx context.Context, p *models.Passenger) error
	GetPassenger(ctx context.Context, id string) (*models.Passenger, error)
	ListPassengersByUser(ctx context.Context, userID string) ([]models.Passenger, error)
	SetDefaultPassenger(ctx context.Context, userID, passengerID string) error
	DeletePassenger(ctx context.Context, id string) error

	CreateSchedule(ctx context.Context, s *models.TrainSchedule, fares []models.Fare) error
	GetSchedule(ctx context.Context, id string) (*models.TrainSchedule, error)
	PriceOf(ctx context.Context, scheduleID string, class models.FareClass) (models.Money, bool, error)
	SearchSchedules(ctx context.Context, q models.ScheduleQuery) ([]models.TrainSchedule, error)
	UpdateScheduleStatus(ctx context.Context, id string, status models.ScheduleStatus) error
}

var (
	_ recordStore = (*Memory)(nil)
	_ recordStore = (*SQLite)(nil)
	_ recordStore = (*Postgres)(nil)
)

func backends(t *testing.T) map[string]recordStore {
	t.Helper()

	pool, err := database.OpenSQLite(database.SQLiteConfig{
		Path:   filepath.Join(t.TempDir(), "store.db"),
		Logger: logrus.New(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	out := map[string]recordStore{
		"memory": NewMemory(),
		"sqlite": NewSQLite(pool),
	}
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		require.NoError(t, database.RunMigrations(context.Background(), db, logrus.New()))
		out["postgres"] = NewPostgres(db)
	}
	return out
}

func newOrder(userID string, created time.Time) *models.Order {
	return &models.Order{
		ID:            uuid.NewString(),
		UserID:        userID,
		Type:          models.OrderPurchase,
		TotalAmount:   models.Yuan(553),
		PaymentStatus: models.PaymentUnpaid,
		Status:        models.OrderProcessing,
		CreatedAt:     created,
	}
}

func newTicket(order *models.Order, passengerID string) *models.Ticket {
	return &models.Ticket{
		ID:            uuid.NewString(),
		UserID:        order.UserID,
		OrderID:       order.ID,
		ScheduleID:    "G1-20261020",
		PassengerID:   passengerID,
		PassengerName: "Zhang San",
		FareClass:     models.SecondClass,
		PricePaid:     order.TotalAmount,
		Status:        models.TicketUnpaid,
	}
}

func TestOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			user := uuid.NewString()
			base := time.Now().Add(-time.Hour)
			older := newOrder(user, base)
			newer := newOrder(user, base.Add(time.Minute))
			require.NoError(t, s.CreateOrder(ctx, older))
			require.NoError(t, s.CreateOrder(ctx, newer))
			assert.ErrorIs(t, s.CreateOrder(ctx, older), models.ErrStateConflict)

			orders, err := s.ListOrdersByUser(ctx, user)
			require.NoError(t, err)
			require.Len(t, orders, 2)
			assert.Equal(t, newer.ID, orders[0].ID)
			assert.Equal(t, older.ID, orders[1].ID)

			require.NoError(t, s.UpdateOrder(ctx, models.OrderTransition{
				OrderID: older.ID, From: models.OrderProcessing, To: models.OrderCompleted, Payment: models.PaymentSuccess,
			}))
			got, err := s.GetOrder(ctx, older.ID)
			require.NoError(t, err)
			assert.Equal(t, models.OrderCompleted, got.Status)
			assert.Equal(t, models.PaymentSuccess, got.PaymentStatus)
			assert.Equal(t, models.Yuan(553), got.TotalAmount)

			// A second writer that still believes the order is Processing loses
			err = s.UpdateOrder(ctx, models.OrderTransition{
				OrderID: older.ID, From: models.OrderProcessing, To: models.OrderCancelled, Payment: models.PaymentFailed,
			})
			assert.ErrorIs(t, err, models.ErrStateConflict)

			err = s.UpdateOrder(ctx, models.OrderTransition{
				OrderID: newer.ID, From: models.OrderProcessing, To: models.OrderCompleted, Payment: models.PaymentFailed,
			})
			assert.ErrorIs(t, err, models.ErrStateConflict, "completed requires a successful payment")

			_, err = s.GetOrder(ctx, "missing")
			assert.ErrorIs(t, err, models.ErrNotFound)
			err = s.UpdateOrder(ctx, models.OrderTransition{OrderID: "missing", From: models.OrderProcessing, To: models.OrderCancelled})
			assert.ErrorIs(t, err, models.ErrNotFound)
		})
	}
}

func TestTicketTransitions(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			order := newOrder(uuid.NewString(), time.Time{})
			require.NoError(t, s.CreateOrder(ctx, order))
			ticket := newTicket(order, uuid.NewString())
			require.NoError(t, s.CreateTicket(ctx, ticket))

			require.NoError(t, s.UpdateTicket(ctx, models.TicketTransition{
				TicketID: ticket.ID, From: models.TicketUnpaid, To: models.TicketPaid, SeatNumber: "03-12A",
			}))
			require.NoError(t, s.UpdateTicket(ctx, models.TicketTransition{
				TicketID: ticket.ID, From: models.TicketPaid, To: models.TicketRefundPending,
			}))

			got, err := s.GetTicket(ctx, ticket.ID)
			require.NoError(t, err)
			assert.Equal(t, models.TicketRefundPending, got.Status)
			assert.Equal(t, "03-12A", got.SeatNumber, "an empty seat number keeps the stored one")

			err = s.UpdateTicket(ctx, models.TicketTransition{TicketID: ticket.ID, From: models.TicketPaid, To: models.TicketIssued})
			assert.ErrorIs(t, err, models.ErrStateConflict)

			err = s.UpdateTicket(ctx, models.TicketTransition{TicketID: ticket.ID, From: models.TicketRefundPending, To: models.TicketCancelled})
			assert.ErrorIs(t, err, models.ErrStateConflict, "not an edge of the ticket state machine")

			byOrder, err := s.ListTicketsByOrder(ctx, order.ID)
			require.NoError(t, err)
			require.Len(t, byOrder, 1)
			assert.Equal(t, ticket.ID, byOrder[0].ID)

			byUser, err := s.ListTicketsByUser(ctx, order.UserID)
			require.NoError(t, err)
			assert.Len(t, byUser, 1)

			n, err := s.CountTicketsByPassenger(ctx, ticket.PassengerID)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestListTicketsByStatusRespectsCutoff(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			order := newOrder(uuid.NewString(), time.Time{})
			require.NoError(t, s.CreateOrder(ctx, order))
			stale := newTicket(order, uuid.NewString())
			stale.CreatedAt = time.Now().Add(-time.Hour)
			fresh := newTicket(order, uuid.NewString())
			require.NoError(t, s.CreateTicket(ctx, stale))
			require.NoError(t, s.CreateTicket(ctx, fresh))

			cutoff := time.Now().Add(-30 * time.Minute)
			found, err := s.ListTicketsByStatus(ctx, models.TicketUnpaid, cutoff)
			require.NoError(t, err)

			var ids []string
			for _, ticket := range found {
				if ticket.OrderID == order.ID {
					ids = append(ids, ticket.ID)
				}
			}
			assert.Equal(t, []string{stale.ID}, ids)
		})
	}
}

func TestPassengers(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			user := uuid.NewString()
			first := &models.Passenger{ID: uuid.NewString(), UserID: user, Name: "Li Si", IDNumber: "110101199003074512", IsDefault: true}
			second := &models.Passenger{ID: uuid.NewString(), UserID: user, Name: "Wang Wu", IDNumber: "11010119900307451X", CreatedAt: time.Now().Add(time.Second)}
			require.NoError(t, s.CreatePassenger(ctx, first))
			require.NoError(t, s.CreatePassenger(ctx, second))

			dup := &models.Passenger{ID: uuid.NewString(), UserID: user, Name: "Li Si", IDNumber: first.IDNumber}
			assert.ErrorIs(t, s.CreatePassenger(ctx, dup), models.ErrStateConflict)

			other := &models.Passenger{ID: uuid.NewString(), UserID: uuid.NewString(), Name: "Li Si", IDNumber: first.IDNumber}
			assert.NoError(t, s.CreatePassenger(ctx, other), "id numbers are unique per user only")

			list, err := s.ListPassengersByUser(ctx, user)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, first.ID, list[0].ID)
			assert.True(t, list[0].IsDefault)

			require.NoError(t, s.SetDefaultPassenger(ctx, user, second.ID))
			list, err = s.ListPassengersByUser(ctx, user)
			require.NoError(t, err)
			assert.Equal(t, second.ID, list[0].ID)
			assert.False(t, list[1].IsDefault)

			assert.ErrorIs(t, s.SetDefaultPassenger(ctx, "someone-else", second.ID), models.ErrNotFound)

			require.NoError(t, s.DeletePassenger(ctx, first.ID))
			_, err = s.GetPassenger(ctx, first.ID)
			assert.ErrorIs(t, err, models.ErrNotFound)
			assert.ErrorIs(t, s.DeletePassenger(ctx, first.ID), models.ErrNotFound)
		})
	}
}

func TestSchedules(t *testing.T) {
	ctx := context.Background()
	loc := time.FixedZone("CST", 8*3600)
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			from, to := "BJP-"+uuid.NewString()[:8], "SHH"
			morning := &models.TrainSchedule{
				ID: uuid.NewString(), TrainNumber: "G1", DepartureStation: from, ArrivalStation: to,
				DepartureTime: time.Date(2026, 10, 20, 9, 0, 0, 0, loc),
				ArrivalTime:   time.Date(2026, 10, 20, 13, 28, 0, 0, loc),
			}
			evening := &models.TrainSchedule{
				ID: uuid.NewString(), TrainNumber: "G3", DepartureStation: from, ArrivalStation: to,
				DepartureTime: time.Date(2026, 10, 20, 19, 0, 0, 0, loc),
				ArrivalTime:   time.Date(2026, 10, 20, 23, 18, 0, 0, loc),
			}
			nextDay := &models.TrainSchedule{
				ID: uuid.NewString(), TrainNumber: "G5", DepartureStation: from, ArrivalStation: to,
				DepartureTime: time.Date(2026, 10, 21, 7, 0, 0, 0, loc),
				ArrivalTime:   time.Date(2026, 10, 21, 11, 40, 0, 0, loc),
			}
			fares := []models.Fare{
				{Class: models.BusinessClass, Price: models.Yuan(1748), Capacity: 20},
				{Class: models.SecondClass, Price: models.Yuan(553), Capacity: 120},
			}
			for _, sched := range []*models.TrainSchedule{evening, nextDay, morning} {
				require.NoError(t, s.CreateSchedule(ctx, sched, fares))
			}
			assert.ErrorIs(t, s.CreateSchedule(ctx, morning, fares), models.ErrStateConflict)

			got, err := s.GetSchedule(ctx, morning.ID)
			require.NoError(t, err)
			assert.Equal(t, models.ScheduleActive, got.Status)
			assert.True(t, got.DepartureTime.Equal(morning.DepartureTime))
			assert.Equal(t, models.Yuan(553), got.Prices[models.SecondClass])
			assert.False(t, got.Offers(models.HardSeat))

			price, ok, err := s.PriceOf(ctx, morning.ID, models.BusinessClass)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, models.Yuan(1748), price)

			_, ok, err = s.PriceOf(ctx, morning.ID, models.HardSleeper)
			require.NoError(t, err)
			assert.False(t, ok)

			_, _, err = s.PriceOf(ctx, "missing", models.SecondClass)
			assert.ErrorIs(t, err, models.ErrNotFound)

			found, err := s.SearchSchedules(ctx, models.ScheduleQuery{
				DepartureStation: from, ArrivalStation: to, Date: time.Date(2026, 10, 20, 0, 0, 0, 0, loc),
			})
			require.NoError(t, err)
			require.Len(t, found, 2)
			assert.Equal(t, morning.ID, found[0].ID)
			assert.Equal(t, evening.ID, found[1].ID)

			all, err := s.SearchSchedules(ctx, models.ScheduleQuery{DepartureStation: from})
			require.NoError(t, err)
			assert.Len(t, all, 3)

			require.NoError(t, s.UpdateScheduleStatus(ctx, morning.ID, models.ScheduleSuspended))
			got, err = s.GetSchedule(ctx, morning.ID)
			require.NoError(t, err)
			assert.Equal(t, models.ScheduleSuspended, got.Status)
			assert.ErrorIs(t, s.UpdateScheduleStatus(ctx, "missing", models.ScheduleCancelled), models.ErrNotFound)
		})
	}
}

func TestCreateScheduleValidates(t *testing.T) {
	s := NewMemory()
	err := s.CreateSchedule(context.Background(), &models.TrainSchedule{
		ID: "S1", TrainNumber: "G1", DepartureStation: "A", ArrivalStation: "B",
		DepartureTime: time.Now(), ArrivalTime: time.Now().Add(-time.Hour),
	}, nil)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	err = s.CreateSchedule(context.Background(), &models.TrainSchedule{
		ID: "S2", TrainNumber: "G1", DepartureStation: "A", ArrivalStation: "B",
		DepartureTime: time.Now(), ArrivalTime: time.Now().Add(time.Hour),
	}, []models.Fare{{Class: models.HardSeat}, {Class: models.HardSeat}})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}
