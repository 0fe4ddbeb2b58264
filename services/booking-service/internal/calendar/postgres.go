package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/studiovoce/booking/libs/db"
	"github.com/studiovoce/booking/services/booking-service/internal/availability"
	"github.com/studiovoce/booking/services/booking-service/internal/booking"
)

const (
	statusBooked    = "booked"
	statusCancelled = "cancelled"
)

// PostgresStore is the live calendar adapter. Non-overlap is enforced by an
// exclusion constraint on tstzrange(start_time, end_time) over booked rows
// (see migrations/0001_booking.sql), so a concurrent overlapping insert fails
// with SQLSTATE 23P01 regardless of what the engine read beforehand.
type PostgresStore struct {
	pool *db.Pool
	loc  *time.Location
}

func NewPostgresStore(pool *db.Pool, loc *time.Location) *PostgresStore {
	if loc == nil {
		loc = time.UTC
	}
	return &PostgresStore{pool: pool, loc: loc}
}

func (s *PostgresStore) ListBusyIntervals(ctx context.Context, day time.Time) ([]availability.Interval, error) {
	d := day.In(s.loc)
	dayStart := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, s.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	rows, err := s.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE status = 'booked'
			AND start_time < $2
			AND end_time > $1
		ORDER BY start_time ASC
	`, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var busy []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		iv.Start = iv.Start.In(s.loc)
		iv.End = iv.End.In(s.loc)
		busy = append(busy, iv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return busy, nil
}

func (s *PostgresStore) InsertEvent(ctx context.Context, interval availability.Interval, meta booking.EventMeta) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO appointments
			(subject_id, service_kind, client_name, client_email, client_phone, start_time, end_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'booked')
		RETURNING id::text
	`, meta.SubjectID, string(meta.ServiceKind), meta.ClientName, meta.ClientEmail, meta.ClientPhone,
		interval.Start, interval.End).Scan(&id)
	if err != nil {
		if isExclusionViolation(err) {
			return "", booking.ErrConflict
		}
		return "", err
	}
	return id, nil
}

// Appointment is the admin-facing view of a calendar event.
type Appointment struct {
	ID           string
	SubjectID    string
	ServiceKind  string
	ClientName   string
	ClientEmail  string
	ClientPhone  string
	StartTime    time.Time
	EndTime      time.Time
	Status       string
	CancelledAt  *time.Time
	CancelReason string
	CreatedAt    time.Time
}

func (s *PostgresStore) ListAppointments(ctx context.Context, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, subject_id, service_kind, client_name, client_email, client_phone,
			start_time, end_time, status, cancelled_at, COALESCE(cancellation_reason, ''), created_at
		FROM appointments
		ORDER BY start_time DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(
			&a.ID,
			&a.SubjectID,
			&a.ServiceKind,
			&a.ClientName,
			&a.ClientEmail,
			&a.ClientPhone,
			&a.StartTime,
			&a.EndTime,
			&a.Status,
			&a.CancelledAt,
			&a.CancelReason,
			&a.CreatedAt,
		); err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// CancelAppointment releases a booked event. Cancelled rows leave the
// exclusion constraint's scope, so the slot becomes bookable again.
func (s *PostgresStore) CancelAppointment(ctx context.Context, eventID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := s.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $2
		WHERE id = $1 AND status = 'booked'
		RETURNING cancelled_at
	`, eventID, reason).Scan(&cancelledAt)
	if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
		// A malformed id names no row, same as an unknown one.
		return time.Time{}, ErrNotFound
	}
	return cancelledAt, err
}

// ErrNotFound is returned when an appointment id does not name a booked row.
var ErrNotFound = errors.New("calendar: appointment not found")

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
