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

const complaintColumns = `
	id, reference_number, job_id, company_id, type, status,
	customer_name, customer_phone, customer_email, description, resolution,
	created_at, updated_at, resolved_at`

func scanComplaint(row rowScanner) (*domain.Complaint, error) {
	var c domain.Complaint
	err := row.Scan(
		&c.ID, &c.ReferenceNumber, &c.JobID, &c.CompanyID, &c.Type, &c.Status,
		&c.Customer.Name, &c.Customer.Phone, &c.Customer.Email, &c.Description, &c.Resolution,
		&c.CreatedAt, &c.UpdatedAt, &c.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PostgresRepository) CreateComplaint(ctx context.Context, c *domain.Complaint) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO complaints (
			id, reference_number, job_id, company_id, type, status,
			customer_name, customer_phone, customer_email, description,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.ReferenceNumber, c.JobID, c.CompanyID, c.Type, c.Status,
		c.Customer.Name, c.Customer.Phone, c.Customer.Email, c.Description,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if code, _ := pgErrorCode(err); code == pgForeignKeyViolation {
			return domain.ErrJobNotFound
		}
		return fmt.Errorf("failed to insert complaint: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetComplaint(ctx context.Context, complaintID uuid.UUID) (*domain.Complaint, error) {
	c, err := scanComplaint(r.db.QueryRow(ctx, `SELECT `+complaintColumns+` FROM complaints WHERE id = $1`, complaintID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrComplaintNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *PostgresRepository) ListComplaints(ctx context.Context, companyID uuid.UUID, status *domain.ComplaintStatus) ([]domain.Complaint, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+complaintColumns+` FROM complaints
		WHERE company_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC`, companyID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query complaints: %w", err)
	}
	defer rows.Close()

	complaints := []domain.Complaint{}
	for rows.Next() {
		c, err := scanComplaint(rows)
		if err != nil {
			return nil, err
		}
		complaints = append(complaints, *c)
	}
	return complaints, rows.Err()
}

// TransitionComplaint moves a complaint from one of the allowed statuses to
// the target. A non-nil resolution also stamps resolved_at.
func (r *PostgresRepository) TransitionComplaint(ctx context.Context, complaintID, companyID uuid.UUID, from []domain.ComplaintStatus, to domain.ComplaintStatus, resolution *string, at time.Time) (*domain.Complaint, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	c, err := scanComplaint(r.db.QueryRow(ctx, `
		UPDATE complaints
		SET status = $4,
			updated_at = $5,
			resolution = COALESCE($6, resolution),
			resolved_at = CASE WHEN $6::text IS NULL THEN resolved_at ELSE $5 END
		WHERE id = $1 AND company_id = $2 AND status = ANY($3)
		RETURNING `+complaintColumns, complaintID, companyID, allowed, to, at, resolution))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.complaintFailure(ctx, complaintID, companyID)
		}
		return nil, fmt.Errorf("failed to transition complaint: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) complaintFailure(ctx context.Context, complaintID, companyID uuid.UUID) error {
	current, err := r.GetComplaint(ctx, complaintID)
	if err != nil {
		return err
	}
	if current.CompanyID != companyID {
		return domain.ErrComplaintNotFound
	}
	return domain.ErrInvalidTransition
}

// RefundComplaint appends the refund entries and marks the complaint refunded
// in one transaction. The unique job entry index rejects a second refund.
func (r *PostgresRepository) RefundComplaint(ctx context.Context, complaintID, companyID uuid.UUID, at time.Time, entries []domain.Transaction) (*domain.Complaint, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var owner uuid.UUID
	var status domain.ComplaintStatus
	var complaintType domain.ComplaintType
	err = tx.QueryRow(ctx, `SELECT company_id, status, type FROM complaints WHERE id = $1 FOR UPDATE`, complaintID).
		Scan(&owner, &status, &complaintType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrComplaintNotFound
		}
		return nil, fmt.Errorf("failed to lock complaint: %w", err)
	}
	if owner != companyID {
		return nil, domain.ErrComplaintNotFound
	}
	if !status.IsOpen() {
		return nil, domain.ErrInvalidTransition
	}
	if complaintType != domain.ComplaintRefundRequest {
		return nil, domain.ErrNotRefundable
	}

	for i := range entries {
		if err = insertTransaction(ctx, tx, &entries[i]); err != nil {
			return nil, err
		}
	}

	c, err := scanComplaint(tx.QueryRow(ctx, `
		UPDATE complaints SET status = 'refunded', updated_at = $2, resolved_at = $2
		WHERE id = $1
		RETURNING `+complaintColumns, complaintID, at))
	if err != nil {
		return nil, fmt.Errorf("failed to mark complaint refunded: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit complaint refund: %w", err)
	}
	return c, nil
}
