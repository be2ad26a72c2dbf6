package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"train-ticketing/models"
)

// Postgres persists records through database/sql and lib/pq
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database; the schema comes from database.RunMigrations
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const (
	pgOrderColumns     = "id, user_id, order_type, total_amount, payment_status, order_status, original_order_id, created_at, updated_at"
	pgTicketColumns    = "id, user_id, order_id, schedule_id, passenger_id, passenger_name, fare_class, seat_number, price_paid, ticket_status, rebooked_from, created_at, updated_at"
	pgPassengerColumns = "id, user_id, name, id_number, phone, is_default, created_at"
	pgScheduleColumns  = "id, train_number, departure_station, arrival_station, departure_time, arrival_time, status, created_at"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func scanOrder(row rowScanner) (models.Order, error) {
	var o models.Order
	err := row.Scan(&o.ID, &o.UserID, &o.Type, &o.TotalAmount, &o.PaymentStatus, &o.Status,
		&o.OriginalOrderID, &o.CreatedAt, &o.UpdatedAt)
	o.CreatedAt, o.UpdatedAt = o.CreatedAt.UTC(), o.UpdatedAt.UTC()
	return o, err
}

func scanTicket(row rowScanner) (models.Ticket, error) {
	var t models.Ticket
	err := row.Scan(&t.ID, &t.UserID, &t.OrderID, &t.ScheduleID, &t.PassengerID, &t.PassengerName,
		&t.FareClass, &t.SeatNumber, &t.PricePaid, &t.Status, &t.RebookedFrom, &t.CreatedAt, &t.UpdatedAt)
	t.CreatedAt, t.UpdatedAt = t.CreatedAt.UTC(), t.UpdatedAt.UTC()
	return t, err
}

func scanPassenger(row rowScanner) (models.Passenger, error) {
	var p models.Passenger
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.IDNumber, &p.Phone, &p.IsDefault, &p.CreatedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	return p, err
}

func scanSchedule(row rowScanner) (models.TrainSchedule, error) {
	var s models.TrainSchedule
	err := row.Scan(&s.ID, &s.TrainNumber, &s.DepartureStation, &s.ArrivalStation,
		&s.DepartureTime, &s.ArrivalTime, &s.Status, &s.CreatedAt)
	s.DepartureTime, s.ArrivalTime, s.CreatedAt = s.DepartureTime.UTC(), s.ArrivalTime.UTC(), s.CreatedAt.UTC()
	return s, err
}

// CreateOrder stores a new order
func (p *Postgres) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := checkOrder(order); err != nil {
		return err
	}
	stamp(&order.CreatedAt, &order.UpdatedAt)

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO orders (`+pgOrderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, order.ID, order.UserID, order.Type, order.TotalAmount, order.PaymentStatus, order.Status,
		order.OriginalOrderID, order.CreatedAt, order.UpdatedAt)
	if isUniqueViolation(err) {
		return duplicate("order", order.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// GetOrder returns an order without its tickets
func (p *Postgres) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := scanOrder(p.db.QueryRowContext(ctx, `SELECT `+pgOrderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("order", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

// ListOrdersByUser returns the user's orders, newest first
func (p *Postgres) ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+pgOrderColumns+` FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		out = append(out, order)
	}
	return out, rows.Err()
}

// UpdateOrder moves an order from t.From to t.To
func (p *Postgres) UpdateOrder(ctx context.Context, t models.OrderTransition) error {
	if err := t.Validate(); err != nil {
		return err
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE orders
		SET order_status = $1,
			payment_status = COALESCE(NULLIF($2, ''), payment_status),
			updated_at = $3
		WHERE id = $4 AND order_status = $5
	`, t.To, t.Payment, now(), t.OrderID, t.From)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if rows, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	} else if rows == 1 {
		return nil
	}

	current, err := p.GetOrder(ctx, t.OrderID)
	if err != nil {
		return err
	}
	return staleOrder(t.OrderID, t.From, current.Status)
}

// CreateTicket stores a new ticket
func (p *Postgres) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	if err := checkTicket(ticket); err != nil {
		return err
	}
	stamp(&ticket.CreatedAt, &ticket.UpdatedAt)

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tickets (`+pgTicketColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, ticket.ID, ticket.UserID, ticket.OrderID, ticket.ScheduleID, ticket.PassengerID, ticket.PassengerName,
		ticket.FareClass, ticket.SeatNumber, ticket.PricePaid, ticket.Status, ticket.RebookedFrom,
		ticket.CreatedAt, ticket.UpdatedAt)
	if isUniqueViolation(err) {
		return duplicate("ticket", ticket.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	return nil
}

func (p *Postgres) queryTickets(ctx context.Context, where string, args ...any) ([]models.Ticket, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+pgTicketColumns+` FROM tickets WHERE `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	var out []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		out = append(out, ticket)
	}
	return out, rows.Err()
}

// GetTicket returns one ticket
func (p *Postgres) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	ticket, err := scanTicket(p.db.QueryRowContext(ctx, `SELECT `+pgTicketColumns+` FROM tickets WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("ticket", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return &ticket, nil
}

// ListTicketsByUser returns the user's tickets, newest first
func (p *Postgres) ListTicketsByUser(ctx context.Context, userID string) ([]models.Ticket, error) {
	return p.queryTickets(ctx, "user_id = $1", userID)
}

// ListTicketsByOrder returns the tickets governed by an order
func (p *Postgres) ListTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	return p.queryTickets(ctx, "order_id = $1", orderID)
}

// ListTicketsByStatus returns tickets in a status last updated before the cutoff
func (p *Postgres) ListTicketsByStatus(ctx context.Context, status models.TicketStatus, updatedBefore time.Time) ([]models.Ticket, error) {
	return p.queryTickets(ctx, "ticket_status = $1 AND updated_at < $2", status, updatedBefore)
}

// CountTicketsByPassenger counts tickets of any status issued to a passenger
func (p *Postgres) CountTicketsByPassenger(ctx context.Context, passengerID string) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets WHERE passenger_id = $1`, passengerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tickets: %w", err)
	}
	return n, nil
}

// UpdateTicket moves a ticket from t.From to t.To
func (p *Postgres) UpdateTicket(ctx context.Context, t models.TicketTransition) error {
	if err := t.Validate(); err != nil {
		return err
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE tickets
		SET ticket_status = $1,
			seat_number = COALESCE(NULLIF($2, ''), seat_number),
			updated_at = $3
		WHERE id = $4 AND ticket_status = $5
	`, t.To, t.SeatNumber, now(), t.TicketID, t.From)
	if err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	if rows, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	} else if rows == 1 {
		return nil
	}

	current, err := p.GetTicket(ctx, t.TicketID)
	if err != nil {
		return err
	}
	return staleTicket(t.TicketID, t.From, current.Status)
}

// CreatePassenger registers a passenger; an id number is unique per user
func (p *Postgres) CreatePassenger(ctx context.Context, passenger *models.Passenger) error {
	if err := checkPassenger(passenger); err != nil {
		return err
	}
	if passenger.CreatedAt.IsZero() {
		passenger.CreatedAt = now()
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if passenger.IsDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE passengers SET is_default = false WHERE user_id = $1`, passenger.UserID); err != nil {
			return fmt.Errorf("failed to clear default passenger: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO passengers (`+pgPassengerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, passenger.ID, passenger.UserID, passenger.Name, passenger.IDNumber, passenger.Phone,
		passenger.IsDefault, passenger.CreatedAt)
	if isUniqueViolation(err) {
		return duplicate("passenger", passenger.IDNumber)
	}
	if err != nil {
		return fmt.Errorf("failed to create passenger: %w", err)
	}
	return tx.Commit()
}

// GetPassenger returns one passenger
func (p *Postgres) GetPassenger(ctx context.Context, id string) (*models.Passenger, error) {
	passenger, err := scanPassenger(p.db.QueryRowContext(ctx, `SELECT `+pgPassengerColumns+` FROM passengers WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("passenger", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get passenger: %w", err)
	}
	return &passenger, nil
}

// ListPassengersByUser returns the default passenger first, then oldest first
func (p *Postgres) ListPassengersByUser(ctx context.Context, userID string) ([]models.Passenger, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+pgPassengerColumns+` FROM passengers
		WHERE user_id = $1
		ORDER BY is_default DESC, created_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list passengers: %w", err)
	}
	defer rows.Close()

	var out []models.Passenger
	for rows.Next() {
		passenger, err := scanPassenger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan passenger: %w", err)
		}
		out = append(out, passenger)
	}
	return out, rows.Err()
}

// SetDefaultPassenger makes one of the user's passengers the default
func (p *Postgres) SetDefaultPassenger(ctx context.Context, userID, passengerID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE passengers SET is_default = (id = $1)
		WHERE user_id = $2 AND EXISTS (SELECT 1 FROM passengers WHERE id = $1 AND user_id = $2)
	`, passengerID, userID)
	if err != nil {
		return fmt.Errorf("failed to set default passenger: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set default passenger: %w", err)
	}
	if rows == 0 {
		return notFound("passenger", passengerID)
	}
	return nil
}

// DeletePassenger removes a passenger record
func (p *Postgres) DeletePassenger(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM passengers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete passenger: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete passenger: %w", err)
	}
	if rows == 0 {
		return notFound("passenger", id)
	}
	return nil
}

// CreateSchedule stores a schedule with its fares in one transaction
func (p *Postgres) CreateSchedule(ctx context.Context, schedule *models.TrainSchedule, fares []models.Fare) error {
	if err := checkSchedule(schedule, fares); err != nil {
		return err
	}
	schedule.Prices = priceMap(fares)

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO schedules (`+pgScheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, schedule.ID, schedule.TrainNumber, schedule.DepartureStation, schedule.ArrivalStation,
		schedule.DepartureTime, schedule.ArrivalTime, schedule.Status, schedule.CreatedAt)
	if isUniqueViolation(err) {
		return duplicate("schedule", schedule.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	for _, f := range fares {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO schedule_fares (schedule_id, fare_class, price, capacity)
			VALUES ($1, $2, $3, $4)
		`, schedule.ID, f.Class, f.Price, f.Capacity)
		if err != nil {
			return fmt.Errorf("failed to create fare %s: %w", f.Class, err)
		}
	}
	return tx.Commit()
}

func (p *Postgres) prices(ctx context.Context, scheduleID string) (map[models.FareClass]models.Money, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT fare_class, price FROM schedule_fares WHERE schedule_id = $1`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fares: %w", err)
	}
	defer rows.Close()

	prices := make(map[models.FareClass]models.Money)
	for rows.Next() {
		var class models.FareClass
		var price models.Money
		if err := rows.Scan(&class, &price); err != nil {
			return nil, fmt.Errorf("failed to scan fare: %w", err)
		}
		prices[class] = price
	}
	return prices, rows.Err()
}

// GetSchedule returns a schedule with its prices
func (p *Postgres) GetSchedule(ctx context.Context, id string) (*models.TrainSchedule, error) {
	schedule, err := scanSchedule(p.db.QueryRowContext(ctx, `SELECT `+pgScheduleColumns+` FROM schedules WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("schedule", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	if schedule.Prices, err = p.prices(ctx, id); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// PriceOf returns the fare of one class; ok is false when the class is not sold
func (p *Postgres) PriceOf(ctx context.Context, scheduleID string, class models.FareClass) (models.Money, bool, error) {
	var exists bool
	var price sql.NullInt64
	err := p.db.QueryRowContext(ctx, `
		SELECT true, f.price
		FROM schedules s
		LEFT JOIN schedule_fares f ON f.schedule_id = s.id AND f.fare_class = $2
		WHERE s.id = $1
	`, scheduleID, class).Scan(&exists, &price)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, notFound("schedule", scheduleID)
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read fare: %w", err)
	}
	return models.Money(price.Int64), price.Valid, nil
}

// SearchSchedules returns matching schedules ordered by departure
func (p *Postgres) SearchSchedules(ctx context.Context, q models.ScheduleQuery) ([]models.TrainSchedule, error) {
	clauses := []string{"1 = 1"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.DepartureStation != "" {
		clauses = append(clauses, "departure_station = "+arg(q.DepartureStation))
	}
	if q.ArrivalStation != "" {
		clauses = append(clauses, "arrival_station = "+arg(q.ArrivalStation))
	}
	if !q.Date.IsZero() {
		start, end := dayBounds(q.Date)
		clauses = append(clauses, "departure_time >= "+arg(start), "departure_time < "+arg(end))
	}

	rows, err := p.db.QueryContext(ctx, `SELECT `+pgScheduleColumns+` FROM schedules WHERE `+
		strings.Join(clauses, " AND ")+` ORDER BY departure_time, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search schedules: %w", err)
	}
	var out []models.TrainSchedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		out = append(out, schedule)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to search schedules: %w", err)
	}

	for i := range out {
		if out[i].Prices, err = p.prices(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UpdateScheduleStatus suspends, cancels or reactivates a schedule
func (p *Postgres) UpdateScheduleStatus(ctx context.Context, id string, status models.ScheduleStatus) error {
	result, err := p.db.ExecContext(ctx, `UPDATE schedules SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	if rows == 0 {
		return notFound("schedule", id)
	}
	return nil
}
