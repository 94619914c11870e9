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

const jobColumns = `
	id, company_id, cleaner_id,
	customer_name, customer_phone, customer_email,
	car_make, car_model, car_color, car_plate,
	lat, lng, address, base_amount, currency, status, charge_id,
	completion_proof, cancel_reason, rating, review,
	created_at, paid_at, assigned_at, started_at, completed_at, cancelled_at, refunded_at`

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	err := row.Scan(
		&j.ID, &j.CompanyID, &j.CleanerID,
		&j.Customer.Name, &j.Customer.Phone, &j.Customer.Email,
		&j.Car.Make, &j.Car.Model, &j.Car.Color, &j.Car.Plate,
		&j.Location.Lat, &j.Location.Lng, &j.Address, &j.BaseAmount, &j.Currency, &j.Status, &j.ChargeID,
		&j.CompletionProof, &j.CancelReason, &j.Rating, &j.Review,
		&j.CreatedAt, &j.PaidAt, &j.AssignedAt, &j.StartedAt, &j.CompletedAt, &j.CancelledAt, &j.RefundedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]domain.Job, error) {
	defer rows.Close()
	jobs := []domain.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// CreatePaidJob inserts the job and its financial breakdown in one transaction.
func (r *PostgresRepository) CreatePaidJob(ctx context.Context, job *domain.Job, fin *domain.JobFinancial) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (
			id, company_id, cleaner_id,
			customer_name, customer_phone, customer_email,
			car_make, car_model, car_color, car_plate,
			lat, lng, address, base_amount, currency, status, charge_id,
			created_at, paid_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		job.ID, job.CompanyID, job.CleanerID,
		job.Customer.Name, job.Customer.Phone, job.Customer.Email,
		job.Car.Make, job.Car.Model, job.Car.Color, job.Car.Plate,
		job.Location.Lat, job.Location.Lng, job.Address, job.BaseAmount, job.Currency, job.Status, job.ChargeID,
		job.CreatedAt, job.PaidAt,
	)
	if err != nil {
		if code, _ := pgErrorCode(err); code == pgUniqueViolation {
			return domain.ErrFinancialExists
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO job_financials (
			job_id, company_id, cleaner_id, package_type,
			base_amount, base_tax, tip_amount, tip_tax,
			platform_fee, platform_fee_tax, processing_fee,
			gross_amount, net_payable, currency, paid_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		fin.JobID, fin.CompanyID, fin.CleanerID, fin.PackageType,
		fin.BaseAmount, fin.BaseTax, fin.TipAmount, fin.TipTax,
		fin.PlatformFee, fin.PlatformFeeTax, fin.ProcessingFee,
		fin.GrossAmount, fin.NetPayable, fin.Currency, fin.PaidAt,
	)
	if err != nil {
		if code, _ := pgErrorCode(err); code == pgUniqueViolation {
			return domain.ErrFinancialExists
		}
		return fmt.Errorf("failed to insert job financial: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *PostgresRepository) GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	j, err := scanJob(r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return j, nil
}

func (r *PostgresRepository) ListPaidJobs(ctx context.Context, companyID uuid.UUID, paidAfter time.Time) ([]domain.Job, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'paid' AND paid_at > $2 AND (company_id IS NULL OR company_id = $1)
		ORDER BY paid_at`, companyID, paidAfter)
	if err != nil {
		return nil, fmt.Errorf("failed to query paid jobs: %w", err)
	}
	return scanJobs(rows)
}

func (r *PostgresRepository) ListPaidJobsBefore(ctx context.Context, cutoff time.Time) ([]domain.Job, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'paid' AND paid_at <= $1
		ORDER BY paid_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired paid jobs: %w", err)
	}
	return scanJobs(rows)
}

// AcceptJob claims a paid job for an on-duty cleaner. Under READ COMMITTED the
// losing UPDATE re-evaluates its WHERE clause after the winner commits and
// matches no row.
func (r *PostgresRepository) AcceptJob(ctx context.Context, jobID, cleanerID uuid.UUID, at, paidAfter time.Time) (*domain.Job, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var companyID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE cleaners SET status = 'busy'
		WHERE id = $1 AND status = 'on_duty'
		RETURNING company_id`, cleanerID).Scan(&companyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetCleaner(ctx, cleanerID); getErr != nil {
				return nil, getErr
			}
			return nil, domain.ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to mark cleaner busy: %w", err)
	}

	job, err := scanJob(tx.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'assigned', cleaner_id = $2, assigned_at = $3, company_id = COALESCE(company_id, $4)
		WHERE id = $1 AND status = 'paid' AND paid_at > $5
		RETURNING `+jobColumns, jobID, cleanerID, at, companyID, paidAfter))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.acceptFailure(ctx, jobID, paidAfter)
		}
		return nil, fmt.Errorf("failed to assign job: %w", err)
	}

	if _, err = tx.Exec(ctx, `
		UPDATE job_financials SET cleaner_id = $2
		WHERE job_id = $1 AND cleaner_id IS NULL`, jobID, cleanerID); err != nil {
		return nil, fmt.Errorf("failed to attribute job financial: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit accept: %w", err)
	}
	return job, nil
}

func (r *PostgresRepository) acceptFailure(ctx context.Context, jobID uuid.UUID, paidAfter time.Time) error {
	current, err := r.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	switch current.Status {
	case domain.JobStatusAssigned, domain.JobStatusInProgress, domain.JobStatusCompleted, domain.JobStatusCancelled:
		return domain.ErrAlreadyAssigned
	case domain.JobStatusPaid:
		if current.PaidAt == nil || !current.PaidAt.After(paidAfter) {
			return domain.ErrJobExpired
		}
		return domain.ErrAlreadyAssigned
	default:
		return domain.ErrInvalidTransition
	}
}

// cleanerMismatch classifies a failed cleaner-scoped update: wrong status
// wins over wrong cleaner.
func (r *PostgresRepository) cleanerMismatch(ctx context.Context, jobID, cleanerID uuid.UUID, want domain.JobStatus) error {
	current, err := r.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if current.Status != want {
		return domain.ErrInvalidTransition
	}
	if current.CleanerID == nil || *current.CleanerID != cleanerID {
		return domain.ErrNotAssignedCleaner
	}
	return domain.ErrInvalidTransition
}

func (r *PostgresRepository) StartJob(ctx context.Context, jobID, cleanerID uuid.UUID, at time.Time) (*domain.Job, error) {
	job, err := scanJob(r.db.QueryRow(ctx, `
		UPDATE jobs SET status = 'in_progress', started_at = $3
		WHERE id = $1 AND cleaner_id = $2 AND status = 'assigned'
		RETURNING `+jobColumns, jobID, cleanerID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.cleanerMismatch(ctx, jobID, cleanerID, domain.JobStatusAssigned)
		}
		return nil, fmt.Errorf("failed to start job: %w", err)
	}
	return job, nil
}

// CompleteJob finishes the job, posts the payment entry and frees the cleaner.
func (r *PostgresRepository) CompleteJob(ctx context.Context, jobID, cleanerID uuid.UUID, proof string, at time.Time, payment domain.Transaction) (*domain.Job, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := scanJob(tx.QueryRow(ctx, `
		UPDATE jobs SET status = 'completed', completion_proof = $3, completed_at = $4
		WHERE id = $1 AND cleaner_id = $2 AND status = 'in_progress'
		RETURNING `+jobColumns, jobID, cleanerID, proof, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.cleanerMismatch(ctx, jobID, cleanerID, domain.JobStatusInProgress)
		}
		return nil, fmt.Errorf("failed to complete job: %w", err)
	}

	if err = insertTransaction(ctx, tx, &payment); err != nil {
		return nil, err
	}
	if err = releaseCleaner(ctx, tx, cleanerID); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit completion: %w", err)
	}
	return job, nil
}

func (r *PostgresRepository) CancelJob(ctx context.Context, jobID, companyID uuid.UUID, reason string, at time.Time) (*domain.Job, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := scanJob(tx.QueryRow(ctx, `
		UPDATE jobs SET status = 'cancelled', cancel_reason = $3, cancelled_at = $4
		WHERE id = $1 AND company_id = $2 AND status IN ('assigned', 'in_progress')
		RETURNING `+jobColumns, jobID, companyID, reason, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			current, getErr := r.GetJob(ctx, jobID)
			if getErr != nil {
				return nil, getErr
			}
			if current.CompanyID == nil || *current.CompanyID != companyID {
				return nil, domain.ErrJobNotFound
			}
			return nil, domain.ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}

	if job.CleanerID != nil {
		if err = releaseCleaner(ctx, tx, *job.CleanerID); err != nil {
			return nil, err
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}
	return job, nil
}

// RefundPaidJob marks a still-paid job refunded and appends its ledger entries.
func (r *PostgresRepository) RefundPaidJob(ctx context.Context, jobID uuid.UUID, at time.Time, entries []domain.Transaction) (*domain.Job, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := scanJob(tx.QueryRow(ctx, `
		UPDATE jobs SET status = 'refunded', refunded_at = $2
		WHERE id = $1 AND status = 'paid'
		RETURNING `+jobColumns, jobID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetJob(ctx, jobID); getErr != nil {
				return nil, getErr
			}
			return nil, domain.ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to refund job: %w", err)
	}

	for i := range entries {
		if err = insertTransaction(ctx, tx, &entries[i]); err != nil {
			return nil, err
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit refund: %w", err)
	}
	return job, nil
}

func (r *PostgresRepository) RateJob(ctx context.Context, jobID uuid.UUID, rating int, review string) (*domain.Job, error) {
	var reviewArg *string
	if review != "" {
		reviewArg = &review
	}
	job, err := scanJob(r.db.QueryRow(ctx, `
		UPDATE jobs SET rating = $2, review = $3
		WHERE id = $1 AND status = 'completed' AND rating IS NULL
		RETURNING `+jobColumns, jobID, rating, reviewArg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetJob(ctx, jobID); getErr != nil {
				return nil, getErr
			}
			return nil, domain.ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to rate job: %w", err)
	}
	return job, nil
}

func releaseCleaner(ctx context.Context, q execer, cleanerID uuid.UUID) error {
	if _, err := q.Exec(ctx, `UPDATE cleaners SET status = 'on_duty' WHERE id = $1 AND status = 'busy'`, cleanerID); err != nil {
		return fmt.Errorf("failed to release cleaner: %w", err)
	}
	return nil
}
