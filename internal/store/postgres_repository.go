/**
 * @description
 * This file provides the PostgreSQL implementation of every repository the
 * engines depend on. Each mutating method is one database transaction whose
 * WHERE clause carries the state precondition, so two racing callers can
 * never both succeed.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver and connection pool.
 * - internal/domain: Domain models and sentinel errors.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omerc321/washapp-sub002/internal/company"
	"github.com/omerc321/washapp-sub002/internal/complaint"
	"github.com/omerc321/washapp-sub002/internal/dispatch"
	"github.com/omerc321/washapp-sub002/internal/domain"
	"github.com/omerc321/washapp-sub002/internal/ledger"
	"github.com/omerc321/washapp-sub002/internal/shift"
)

var (
	_ company.Repository   = (*PostgresRepository)(nil)
	_ ledger.Repository    = (*PostgresRepository)(nil)
	_ shift.Repository     = (*PostgresRepository)(nil)
	_ dispatch.Repository  = (*PostgresRepository)(nil)
	_ complaint.Repository = (*PostgresRepository)(nil)
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresRepository is the production store.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Close releases the pool.
func (r *PostgresRepository) Close() {
	r.db.Close()
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// execer is satisfied by both the pool and an open pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func pgErrorCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

func (r *PostgresRepository) CreateCompany(ctx context.Context, c *domain.Company) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO companies (id, name, package_type, custom_platform_fee, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.Name, c.PackageType, c.CustomPlatformFee, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert company: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetCompany(ctx context.Context, companyID uuid.UUID) (*domain.Company, error) {
	var c domain.Company
	err := r.db.QueryRow(ctx, `
		SELECT id, name, package_type, custom_platform_fee, created_at
		FROM companies WHERE id = $1`, companyID).
		Scan(&c.ID, &c.Name, &c.PackageType, &c.CustomPlatformFee, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCompanyNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *PostgresRepository) CreateCleaner(ctx context.Context, c *domain.Cleaner) error {
	lat, lng := pointArgs(c.LastLocation)
	_, err := r.db.Exec(ctx, `
		INSERT INTO cleaners (id, company_id, name, status, last_lat, last_lng, last_location_update, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.CompanyID, c.Name, c.Status, lat, lng, c.LastLocationUpdate, c.CreatedAt)
	if err != nil {
		if code, _ := pgErrorCode(err); code == pgForeignKeyViolation {
			return domain.ErrCompanyNotFound
		}
		return fmt.Errorf("failed to insert cleaner: %w", err)
	}
	return nil
}

const cleanerColumns = `id, company_id, name, status, last_lat, last_lng, last_location_update, created_at`

func scanCleaner(row rowScanner) (*domain.Cleaner, error) {
	var c domain.Cleaner
	var lat, lng *float64
	if err := row.Scan(&c.ID, &c.CompanyID, &c.Name, &c.Status, &lat, &lng, &c.LastLocationUpdate, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.LastLocation = pointFrom(lat, lng)
	return &c, nil
}

func (r *PostgresRepository) GetCleaner(ctx context.Context, cleanerID uuid.UUID) (*domain.Cleaner, error) {
	c, err := scanCleaner(r.db.QueryRow(ctx, `SELECT `+cleanerColumns+` FROM cleaners WHERE id = $1`, cleanerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCleanerNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *PostgresRepository) CountCleaners(ctx context.Context, companyID uuid.UUID) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM cleaners WHERE company_id = $1`, companyID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cleaners: %w", err)
	}
	return n, nil
}

// UpsertGeofence inserts or replaces a geofence. An existing id owned by
// another company is reported as not found.
func (r *PostgresRepository) UpsertGeofence(ctx context.Context, g *domain.CompanyGeofence) error {
	polygon, err := json.Marshal(g.Polygon)
	if err != nil {
		return fmt.Errorf("failed to encode polygon: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		INSERT INTO company_geofences (id, company_id, name, polygon, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, polygon = EXCLUDED.polygon, updated_at = EXCLUDED.updated_at
		WHERE company_geofences.company_id = EXCLUDED.company_id`,
		g.ID, g.CompanyID, g.Name, polygon, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		if code, _ := pgErrorCode(err); code == pgForeignKeyViolation {
			return domain.ErrCompanyNotFound
		}
		return fmt.Errorf("failed to upsert geofence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrGeofenceNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteGeofence(ctx context.Context, companyID, geofenceID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM company_geofences WHERE id = $1 AND company_id = $2`, geofenceID, companyID)
	if err != nil {
		return fmt.Errorf("failed to delete geofence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrGeofenceNotFound
	}
	return nil
}

func (r *PostgresRepository) ListGeofences(ctx context.Context) ([]domain.CompanyGeofence, error) {
	return r.queryGeofences(ctx, `
		SELECT id, company_id, name, polygon, created_at, updated_at
		FROM company_geofences ORDER BY created_at`)
}

func (r *PostgresRepository) ListCompanyGeofences(ctx context.Context, companyID uuid.UUID) ([]domain.CompanyGeofence, error) {
	return r.queryGeofences(ctx, `
		SELECT id, company_id, name, polygon, created_at, updated_at
		FROM company_geofences WHERE company_id = $1 ORDER BY created_at`, companyID)
}

func (r *PostgresRepository) queryGeofences(ctx context.Context, query string, args ...any) ([]domain.CompanyGeofence, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query geofences: %w", err)
	}
	defer rows.Close()

	fences := []domain.CompanyGeofence{}
	for rows.Next() {
		var g domain.CompanyGeofence
		var polygon []byte
		if err := rows.Scan(&g.ID, &g.CompanyID, &g.Name, &polygon, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(polygon, &g.Polygon); err != nil {
			return nil, fmt.Errorf("failed to decode polygon for geofence %s: %w", g.ID, err)
		}
		fences = append(fences, g)
	}
	return fences, rows.Err()
}

func pointArgs(p *domain.Point) (*float64, *float64) {
	if p == nil {
		return nil, nil
	}
	lat, lng := p.Lat, p.Lng
	return &lat, &lng
}

func pointFrom(lat, lng *float64) *domain.Point {
	if lat == nil || lng == nil {
		return nil
	}
	return &domain.Point{Lat: *lat, Lng: *lng}
}
