package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"train-ticketing/database"
	"train-ticketing/models"
)

// SQLite persists records in an embedded database. Times are unix
// nanoseconds, money is integer minor units.
type SQLite struct {
	pool *database.SQLitePool
}

// NewSQLite wraps an open pool
func NewSQLite(pool *database.SQLitePool) *SQLite {
	return &SQLite{pool: pool}
}

const (
	sqliteOrderColumns  = "id, user_id, order_type, total_amount, payment_status, order_status, original_order_id, created_at, updated_at"
	sqliteTicketColumns = "id, user_id, order_id, schedule_id, passenger_id, passenger_name, fare_class, seat_number, price_paid, ticket_status, rebooked_from, created_at, updated_at"
	sqlitePassengerCols = "id, user_id, name, id_number, phone, is_default, created_at"
	sqliteScheduleCols  = "id, train_number, departure_station, arrival_station, departure_time, arrival_time, status, created_at"
)

func unixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanSQLiteOrder(stmt *sqlite.Stmt) models.Order {
	return models.Order{
		ID:              stmt.ColumnText(0),
		UserID:          stmt.ColumnText(1),
		Type:            models.OrderType(stmt.ColumnText(2)),
		TotalAmount:     models.Money(stmt.ColumnInt64(3)),
		PaymentStatus:   models.PaymentStatus(stmt.ColumnText(4)),
		Status:          models.OrderStatus(stmt.ColumnText(5)),
		OriginalOrderID: stmt.ColumnText(6),
		CreatedAt:       unixNano(stmt.ColumnInt64(7)),
		UpdatedAt:       unixNano(stmt.ColumnInt64(8)),
	}
}

func scanSQLiteTicket(stmt *sqlite.Stmt) models.Ticket {
	return models.Ticket{
		ID:            stmt.ColumnText(0),
		UserID:        stmt.ColumnText(1),
		OrderID:       stmt.ColumnText(2),
		ScheduleID:    stmt.ColumnText(3),
		PassengerID:   stmt.ColumnText(4),
		PassengerName: stmt.ColumnText(5),
		FareClass:     models.FareClass(stmt.ColumnText(6)),
		SeatNumber:    stmt.ColumnText(7),
		PricePaid:     models.Money(stmt.ColumnInt64(8)),
		Status:        models.TicketStatus(stmt.ColumnText(9)),
		RebookedFrom:  stmt.ColumnText(10),
		CreatedAt:     unixNano(stmt.ColumnInt64(11)),
		UpdatedAt:     unixNano(stmt.ColumnInt64(12)),
	}
}

func scanSQLitePassenger(stmt *sqlite.Stmt) models.Passenger {
	return models.Passenger{
		ID:        stmt.ColumnText(0),
		UserID:    stmt.ColumnText(1),
		Name:      stmt.ColumnText(2),
		IDNumber:  stmt.ColumnText(3),
		Phone:     stmt.ColumnText(4),
		IsDefault: stmt.ColumnInt(5) != 0,
		CreatedAt: unixNano(stmt.ColumnInt64(6)),
	}
}

func scanSQLiteSchedule(stmt *sqlite.Stmt) models.TrainSchedule {
	return models.TrainSchedule{
		ID:               stmt.ColumnText(0),
		TrainNumber:      stmt.ColumnText(1),
		DepartureStation: stmt.ColumnText(2),
		ArrivalStation:   stmt.ColumnText(3),
		DepartureTime:    unixNano(stmt.ColumnInt64(4)),
		ArrivalTime:      unixNano(stmt.ColumnInt64(5)),
		Status:           models.ScheduleStatus(stmt.ColumnText(6)),
		CreatedAt:        unixNano(stmt.ColumnInt64(7)),
	}
}

// withConn borrows a connection for fn
func (s *SQLite) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

// withTx runs fn inside an IMMEDIATE transaction
func (s *SQLite) withTx(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("sqlite: begin transaction: %w", err)
		}
		defer endTransaction(&err)
		return fn(conn)
	})
}

func sqliteExists(conn *sqlite.Conn, query string, args ...any) (bool, error) {
	found := false
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(*sqlite.Stmt) error {
			found = true
			return nil
		},
	})
	return found, err
}

// CreateOrder stores a new order
func (s *SQLite) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := checkOrder(order); err != nil {
		return err
	}
	stamp(&order.CreatedAt, &order.UpdatedAt)

	return s.withTx(ctx, func(conn *sqlite.Conn) error {
		exists, err := sqliteExists(conn, "SELECT 1 FROM orders WHERE id = ?", order.ID)
		if err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		if exists {
			return duplicate("order", order.ID)
		}
		err = sqlitex.Execute(conn, "INSERT INTO orders ("+sqliteOrderColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{
				order.ID, order.UserID, string(order.Type), int64(order.TotalAmount),
				string(order.PaymentStatus), string(order.Status), order.OriginalOrderID,
				order.CreatedAt.UnixNano(), order.UpdatedAt.UnixNano(),
			}})
		if err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		return nil
	})
}

// GetOrder returns an order without its tickets
func (s *SQLite) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order *models.Order
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT "+sqliteOrderColumns+" FROM orders WHERE id = ?", &sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				o := scanSQLiteOrder(stmt)
				order = &o
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if order == nil {
		return nil, notFound("order", id)
	}
	return order, nil
}

// ListOrdersByUser returns the user's orders, newest first
func (s *SQLite) ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	var out []models.Order
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT "+sqliteOrderColumns+" FROM orders WHERE user_id = ? ORDER BY created_at DESC, rowid DESC", &sqlitex.ExecOptions{
			Args: []any{userID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, scanSQLiteOrder(stmt))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return out, nil
}

// UpdateOrder moves an order from t.From to t.To
func (s *SQLite) UpdateOrder(ctx context.Context, t models.OrderTransition) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return s.withTx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			UPDATE orders
			SET order_status = ?, payment_status = CASE WHEN ? = '' THEN payment_status ELSE ? END, updated_at = ?
			WHERE id = ? AND order_status = ?`,
			&sqlitex.ExecOptions{Args: []any{
				string(t.To), string(t.Payment), string(t.Payment), now().UnixNano(), t.OrderID, string(t.From),
			}})
		if err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		if conn.Changes() == 1 {
			return nil
		}

		var current models.OrderStatus
		err = sqlitex.Execute(conn, "SELECT order_status FROM orders WHERE id = ?", &sqlitex.ExecOptions{
			Args: []any{t.OrderID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				current = models.OrderStatus(stmt.ColumnText(0))
				return nil
			},
		})
		if err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		if current == "" {
			return notFound("order", t.OrderID)
		}
		return staleOrder(t.OrderID, t.From, current)
	})
}

// CreateTicket stores a new ticket
func (s *SQLite) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	if err := checkTicket(ticket); err != nil {
		return err
	}
	stamp(&ticket.CreatedAt, &ticket.UpdatedAt)

	return s.withTx(ctx, func(conn *sqlite.Conn) error {
		exists, err := sqliteExists(conn, "SELECT 1 FROM tickets WHERE id = ?", ticket.ID)
		if err != nil {
			return fmt.Errorf("failed to create ticket: %w", err)
		}
		if exists {
			return duplicate("ticket", ticket.ID)
		}
		err = sqlitex.Execute(conn, "INSERT INTO tickets ("+sqliteTicketColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{
				ticket.ID, ticket.UserID, ticket.OrderID, ticket.ScheduleID, ticket.PassengerID,
				ticket.PassengerName, string(ticket.FareClass), ticket.SeatNumber, int64(ticket.PricePaid),
				string(ticket.Status), ticket.RebookedFrom, ticket.CreatedAt.UnixNano(), ticket.UpdatedAt.UnixNano(),
			}})
		if err != nil {
			return fmt.Errorf("failed to create ticket: %w", err)
		}
		return nil
	})
}

func (s *SQLite) queryTickets(ctx context.Context, where string, args ...any) ([]models.Ticket, error) {
	var out []models.Ticket
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT "+sqliteTicketColumns+" FROM tickets WHERE "+where+" ORDER BY created_at DESC, rowid DESC", &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, scanSQLiteTicket(stmt))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	return out, nil
}

// GetTicket returns one ticket
func (s *SQLite) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	tickets, err := s.queryTickets(ctx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, notFound("ticket", id)
	}
	return &tickets[0], nil
}

// ListTicketsByUser returns the user's tickets, newest first
func (s *SQLite) ListTicketsByUser(ctx context.Context, userID string) ([]models.Ticket, error) {
	return s.queryTickets(ctx, "user_id = ?", userID)
}

// ListTicketsByOrder returns the tickets governed by an order
func (s *SQLite) ListTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	return s.queryTickets(ctx, "order_id = ?", orderID)
}

// ListTicketsByStatus returns tickets in a status last updated before the cutoff
func (s *SQLite) ListTicketsByStatus(ctx context.Context, status models.TicketStatus, updatedBefore time.Time) ([]models.Ticket, error) {
	return s.queryTickets(ctx, "ticket_status = ? AND updated_at < ?", string(status), updatedBefore.UnixNano())
}

// CountTicketsByPassenger counts tickets of any status issued to a passenger
func (s *SQLite) CountTicketsByPassenger(ctx context.Context, passengerID string) (int, error) {
	n := 0
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT COUNT(*) FROM tickets WHERE passenger_id = ?", &sqlitex.ExecOptions{
			Args: []any{passengerID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				n = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count tickets: %w", err)
	}
	return n, nil
}

// UpdateTicket moves a ticket from t.From to t.To
func (s *SQLite) UpdateTicket(ctx context.Context, t models.TicketTransition) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return s.withTx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			UPDATE tickets
			SET ticket_status = ?, seat_number = CASE WHEN ? = '' THEN seat_number ELSE ? END, updated_at = ?
			WHERE id = ? AND ticket_status = ?`,
			&sqlitex.ExecOptions{Args: []any{
				string(t.To), t.SeatNumber, t.SeatNumber, now().UnixNano(), t.TicketID, string(t.From),
			}})
		if err != nil {
			return fmt.Errorf("failed to update ticket: %w", err)
		}
		if conn.Changes() == 1 {
			return nil
		}

		var current models.TicketStatus
		err = sqlitex.Execute(conn, "SELECT ticket_status FROM tickets WHERE id = ?", &sqlitex.ExecOptions{
			Args: []any{t.TicketID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				current = models.TicketStatus(stmt.ColumnText(0))
				return nil
			},
		})
		if err != nil {
			return fmt.Errorf("failed to update ticket: %w", err)
		}
		if current == "" {
			return notFound("ticket", t.TicketID)
		}
		return staleTicket(t.TicketID, t.From, current)
	})
}

// CreatePassenger registers a passenger; an id number is unique per user
func (s *SQLite) CreatePassenger(ctx context.Context, p *models.Passenger) error {
	if err := checkPassenger(p); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now()
	}

	return s.withTx(ctx, func(conn *sqlite.Conn) error {
		exists, err := sqliteExists(conn, "SELECT 1 FROM passengers WHERE id = ?", p.ID)
		if err != nil {
			return fmt.Errorf("failed to create passenger: %w", err)
		}
		if exists {
			return duplicate("passenger", p.ID)
		}
		exists, err = sqliteExists(conn, "SELECT 1 FROM passengers WHERE user_id = ? AND id_number = ?", p.UserID, p.IDNumber)
		if err != nil {
			return fmt.Errorf("failed to create passenger: %w", err)
		}
		if exists {
			return duplicate("passenger with id number", p.IDNumber)
		}
		if p.IsDefault {
			if err := sqlitex.Execute(conn, "UPDATE passengers SET is_default = 0 WHERE user_id = ?", &sqlitex.ExecOptions{Args: []any{p.UserID}}); err != nil {
				return fmt.Errorf("failed to create passenger: %w", err)
			}
		}
		err = sqlitex.Execute(conn, "INSERT INTO passengers ("+sqlitePassengerCols+") VALUES (?, ?, ?, ?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{
				p.ID, p.UserID, p.Name, p.IDNumber, p.Phone, boolInt(p.IsDefault), p.CreatedAt.UnixNano(),
			}})
		if err != nil {
			return fmt.Errorf("failed to create passenger: %w", err)
		}
		return nil
	})
}

func (s *SQLite) queryPassengers(ctx context.Context, where string, args ...any) ([]models.Passenger, error) {
	var out []models.Passenger
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT "+sqlitePassengerCols+" FROM passengers WHERE "+where+" ORDER BY is_default DESC, created_at, id", &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, scanSQLitePassenger(stmt))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query passengers: %w", err)
	}
	return out, nil
}

// GetPassenger returns one passenger
func (s *SQLite) GetPassenger(ctx context.Context, id string) (*models.Passenger, error) {
	passengers, err := s.queryPassengers(ctx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(passengers) == 0 {
		return nil, notFound("passenger", id)
	}
	return &passengers[0], nil
}

// ListPassengersByUser returns the default passenger first, then oldest first
func (s *SQLite) ListPassengersByUser(ctx context.Context, userID string) ([]models.Passenger, error) {
	return s.queryPassengers(ctx, "user_id = ?", userID)
}

// SetDefaultPassenger makes one of the user's passengers the default
func (s *SQLite) SetDefaultPassenger(ctx context.Context, userID, passengerID string) error {
	return s.withTx(ctx, func(conn *sqlite.Conn) error {
		exists, err := sqliteExists(conn, "SELECT 1 FROM passengers WHERE id = ? AND user_id = ?", passengerID, userID)
		if err != nil {
			return fmt.Errorf("failed to set default passenger: %w", err)
		}
		if !exists {
			return notFound("passenger", passengerID)
		}
		err = sqlitex.Execute(conn, "UPDATE passengers SET is_default = (id = ?) WHERE user_id = ?",
			&sqlitex.ExecOptions{Args: []any{passengerID, userID}})
		if err != nil {
			return fmt.Errorf("failed to set default passenger: %w", err)
		}
		return nil
	})
}

// DeletePassenger removes a passenger record
func (s *SQLite) DeletePassenger(ctx context.Context, id string) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "DELETE FROM passengers WHERE id = ?", &sqlitex.ExecOptions{Args: []any{id}}); err != nil {
			return fmt.Errorf("failed to delete passenger: %w", err)
		}
		if conn.Changes() == 0 {
			return notFound("passenger", id)
		}
		return nil
	})
}

// CreateSchedule stores a schedule with its fares
func (s *SQLite) CreateSchedule(ctx context.Context, schedule *models.TrainSchedule, fares []models.Fare) error {
	if err := checkSchedule(schedule, fares); err != nil {
		return err
	}
	schedule.Prices = priceMap(fares)

	return s.withTx(ctx, func(conn *sqlite.Conn) error {
		exists, err := sqliteExists(conn, "SELECT 1 FROM schedules WHERE id = ?", schedule.ID)
		if err != nil {
			return fmt.Errorf("failed to create schedule: %w", err)
		}
		if exists {
			return duplicate("schedule", schedule.ID)
		}
		err = sqlitex.Execute(conn, "INSERT INTO schedules ("+sqliteScheduleCols+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{
				schedule.ID, schedule.TrainNumber, schedule.DepartureStation, schedule.ArrivalStation,
				schedule.DepartureTime.UnixNano(), schedule.ArrivalTime.UnixNano(),
				string(schedule.Status), schedule.CreatedAt.UnixNano(),
			}})
		if err != nil {
			return fmt.Errorf("failed to create schedule: %w", err)
		}
		for _, f := range fares {
			err = sqlitex.Execute(conn, "INSERT INTO schedule_fares (schedule_id, fare_class, price, capacity) VALUES (?, ?, ?, ?)",
				&sqlitex.ExecOptions{Args: []any{schedule.ID, string(f.Class), int64(f.Price), f.Capacity}})
			if err != nil {
				return fmt.Errorf("failed to create fare %s: %w", f.Class, err)
			}
		}
		return nil
	})
}

func sqliteFares(conn *sqlite.Conn, scheduleID string) (map[models.FareClass]models.Money, error) {
	prices := make(map[models.FareClass]models.Money)
	err := sqlitex.Execute(conn, "SELECT fare_class, price FROM schedule_fares WHERE schedule_id = ?", &sqlitex.ExecOptions{
		Args: []any{scheduleID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			prices[models.FareClass(stmt.ColumnText(0))] = models.Money(stmt.ColumnInt64(1))
			return nil
		},
	})
	return prices, err
}

func (s *SQLite) querySchedules(ctx context.Context, where string, args ...any) ([]models.TrainSchedule, error) {
	var out []models.TrainSchedule
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, "SELECT "+sqliteScheduleCols+" FROM schedules WHERE "+where+" ORDER BY departure_time, id", &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, scanSQLiteSchedule(stmt))
				return nil
			},
		})
		if err != nil {
			return err
		}
		for i := range out {
			if out[i].Prices, err = sqliteFares(conn, out[i].ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	return out, nil
}

// GetSchedule returns a schedule with its prices
func (s *SQLite) GetSchedule(ctx context.Context, id string) (*models.TrainSchedule, error) {
	schedules, err := s.querySchedules(ctx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(schedules) == 0 {
		return nil, notFound("schedule", id)
	}
	return &schedules[0], nil
}

// PriceOf returns the fare of one class; ok is false when the class is not sold
func (s *SQLite) PriceOf(ctx context.Context, scheduleID string, class models.FareClass) (models.Money, bool, error) {
	var (
		price         models.Money
		found, exists bool
	)
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		var err error
		if exists, err = sqliteExists(conn, "SELECT 1 FROM schedules WHERE id = ?", scheduleID); err != nil || !exists {
			return err
		}
		return sqlitex.Execute(conn, "SELECT price FROM schedule_fares WHERE schedule_id = ? AND fare_class = ?", &sqlitex.ExecOptions{
			Args: []any{scheduleID, string(class)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				price = models.Money(stmt.ColumnInt64(0))
				found = true
				return nil
			},
		})
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to read fare: %w", err)
	}
	if !exists {
		return 0, false, notFound("schedule", scheduleID)
	}
	return price, found, nil
}

// SearchSchedules returns matching schedules ordered by departure
func (s *SQLite) SearchSchedules(ctx context.Context, q models.ScheduleQuery) ([]models.TrainSchedule, error) {
	clauses := []string{"1 = 1"}
	var args []any
	if q.DepartureStation != "" {
		clauses = append(clauses, "departure_station = ?")
		args = append(args, q.DepartureStation)
	}
	if q.ArrivalStation != "" {
		clauses = append(clauses, "arrival_station = ?")
		args = append(args, q.ArrivalStation)
	}
	if !q.Date.IsZero() {
		start, end := dayBounds(q.Date)
		clauses = append(clauses, "departure_time >= ? AND departure_time < ?")
		args = append(args, start.UnixNano(), end.UnixNano())
	}
	return s.querySchedules(ctx, strings.Join(clauses, " AND "), args...)
}

// UpdateScheduleStatus suspends, cancels or reactivates a schedule
func (s *SQLite) UpdateScheduleStatus(ctx context.Context, id string, status models.ScheduleStatus) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, "UPDATE schedules SET status = ? WHERE id = ?",
			&sqlitex.ExecOptions{Args: []any{string(status), id}})
		if err != nil {
			return fmt.Errorf("failed to update schedule: %w", err)
		}
		if conn.Changes() == 0 {
			return notFound("schedule", id)
		}
		return nil
	})
}
