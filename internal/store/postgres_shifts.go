package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/omerc321/washapp-sub002/internal/domain"
)

const openShiftIndex = "ux_cleaner_shifts_open"

const shiftColumns = `id, cleaner_id, company_id, shift_start, shift_end, duration_minutes, start_lat, start_lng, end_lat, end_lng`

func scanShift(row rowScanner) (*domain.CleanerShift, error) {
	var s domain.CleanerShift
	var startLat, startLng, endLat, endLng *float64
	if err := row.Scan(&s.ID, &s.CleanerID, &s.CompanyID, &s.ShiftStart, &s.ShiftEnd, &s.DurationMinutes, &startLat, &startLng, &endLat, &endLng); err != nil {
		return nil, err
	}
	s.StartLocation = pointFrom(startLat, startLng)
	s.EndLocation = pointFrom(endLat, endLng)
	return &s, nil
}

// OpenShift inserts the shift and moves the cleaner off_duty -> on_duty. The
// partial unique index on open shifts backs the in-transaction check.
func (r *PostgresRepository) OpenShift(ctx context.Context, s *domain.CleanerShift) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status domain.CleanerStatus
	if err = tx.QueryRow(ctx, `SELECT status FROM cleaners WHERE id = $1 FOR UPDATE`, s.CleanerID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrCleanerNotFound
		}
		return fmt.Errorf("failed to lock cleaner: %w", err)
	}

	var open bool
	if err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cleaner_shifts WHERE cleaner_id = $1 AND shift_end IS NULL)`, s.CleanerID).Scan(&open); err != nil {
		return fmt.Errorf("failed to check open shift: %w", err)
	}
	if open {
		return domain.ErrShiftAlreadyOpen
	}
	if status != domain.CleanerOffDuty {
		return domain.ErrInvalidTransition
	}

	lat, lng := pointArgs(s.StartLocation)
	_, err = tx.Exec(ctx, `
		INSERT INTO cleaner_shifts (id, cleaner_id, company_id, shift_start, start_lat, start_lng)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.CleanerID, s.CompanyID, s.ShiftStart, lat, lng)
	if err != nil {
		if code, constraint := pgErrorCode(err); code == pgUniqueViolation && constraint == openShiftIndex {
			return domain.ErrShiftAlreadyOpen
		}
		return fmt.Errorf("failed to insert shift: %w", err)
	}

	if s.StartLocation != nil {
		_, err = tx.Exec(ctx, `
			UPDATE cleaners SET status = 'on_duty', last_lat = $2, last_lng = $3, last_location_update = $4
			WHERE id = $1`, s.CleanerID, lat, lng, s.ShiftStart)
	} else {
		_, err = tx.Exec(ctx, `UPDATE cleaners SET status = 'on_duty' WHERE id = $1`, s.CleanerID)
	}
	if err != nil {
		return fmt.Errorf("failed to mark cleaner on duty: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) UpdateCleanerLocation(ctx context.Context, cleanerID uuid.UUID, p domain.Point, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE cleaners SET last_lat = $2, last_lng = $3, last_location_update = $4
		WHERE id = $1`, cleanerID, p.Lat, p.Lng, at)
	if err != nil {
		return fmt.Errorf("failed to update cleaner location: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCleanerNotFound
	}
	return nil
}

// CloseShift closes the open shift and sets the cleaner off duty. With
// staleBefore set it only acts while the last heartbeat is older than
// staleBefore, so a heartbeat that lands first wins. Without it, a non-nil end
// is also stored as the cleaner's last location. A nil shift with a nil error
// means only the cleaner status was repaired.
func (r *PostgresRepository) CloseShift(ctx context.Context, cleanerID uuid.UUID, at time.Time, end *domain.Point, staleBefore *time.Time) (*domain.CleanerShift, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status domain.CleanerStatus
	var lastUpdate *time.Time
	err = tx.QueryRow(ctx, `SELECT status, last_location_update FROM cleaners WHERE id = $1 FOR UPDATE`, cleanerID).Scan(&status, &lastUpdate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCleanerNotFound
		}
		return nil, fmt.Errorf("failed to lock cleaner: %w", err)
	}
	if status != domain.CleanerOnDuty {
		return nil, domain.ErrInvalidTransition
	}
	if staleBefore != nil && lastUpdate != nil && !lastUpdate.Before(*staleBefore) {
		return nil, domain.ErrInvalidTransition
	}

	var closed *domain.CleanerShift
	open, err := scanShift(tx.QueryRow(ctx, `
		SELECT `+shiftColumns+` FROM cleaner_shifts
		WHERE cleaner_id = $1 AND shift_end IS NULL
		FOR UPDATE`, cleanerID))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to load open shift: %w", err)
	default:
		duration := domain.ShiftDurationMinutes(open.ShiftStart, at)
		lat, lng := pointArgs(end)
		closed, err = scanShift(tx.QueryRow(ctx, `
			UPDATE cleaner_shifts
			SET shift_end = $2, duration_minutes = $3, end_lat = $4, end_lng = $5
			WHERE id = $1
			RETURNING `+shiftColumns, open.ID, at, duration, lat, lng))
		if err != nil {
			return nil, fmt.Errorf("failed to close shift: %w", err)
		}
	}

	if end != nil && staleBefore == nil {
		_, err = tx.Exec(ctx, `
			UPDATE cleaners SET status = 'off_duty', last_lat = $2, last_lng = $3, last_location_update = $4
			WHERE id = $1`, cleanerID, end.Lat, end.Lng, at)
	} else {
		_, err = tx.Exec(ctx, `UPDATE cleaners SET status = 'off_duty' WHERE id = $1`, cleanerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark cleaner off duty: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit shift close: %w", err)
	}
	return closed, nil
}

func (r *PostgresRepository) ListStaleCleaners(ctx context.Context, cutoff time.Time) ([]domain.Cleaner, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+cleanerColumns+` FROM cleaners
		WHERE status = 'on_duty' AND (last_location_update IS NULL OR last_location_update < $1)`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale cleaners: %w", err)
	}
	defer rows.Close()

	cleaners := []domain.Cleaner{}
	for rows.Next() {
		c, err := scanCleaner(rows)
		if err != nil {
			return nil, err
		}
		cleaners = append(cleaners, *c)
	}
	return cleaners, rows.Err()
}

func (r *PostgresRepository) GetOpenShift(ctx context.Context, cleanerID uuid.UUID) (*domain.CleanerShift, error) {
	s, err := scanShift(r.db.QueryRow(ctx, `
		SELECT `+shiftColumns+` FROM cleaner_shifts
		WHERE cleaner_id = $1 AND shift_end IS NULL`, cleanerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNoOpenShift
		}
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) ListShifts(ctx context.Context, cleanerID uuid.UUID, limit int) ([]domain.CleanerShift, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+shiftColumns+` FROM cleaner_shifts
		WHERE cleaner_id = $1
		ORDER BY shift_start DESC
		LIMIT $2`, cleanerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query shifts: %w", err)
	}
	defer rows.Close()

	shifts := []domain.CleanerShift{}
	for rows.Next() {
		s, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, *s)
	}
	return shifts, rows.Err()
}
