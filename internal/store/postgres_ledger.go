package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/omerc321/washapp-sub002/internal/domain"
)

// jobEntryIndex enforces one payment and one refund per job.
// txReferenceIndex is the default name of the reference_number UNIQUE constraint.
const (
	jobEntryIndex    = "ux_transactions_job_entry"
	txReferenceIndex = "transactions_reference_number_key"
)

func (r *PostgresRepository) GetJobFinancial(ctx context.Context, jobID uuid.UUID) (*domain.JobFinancial, error) {
	var f domain.JobFinancial
	err := r.db.QueryRow(ctx, `
		SELECT job_id, company_id, cleaner_id, package_type,
			base_amount, base_tax, tip_amount, tip_tax,
			platform_fee, platform_fee_tax, processing_fee,
			gross_amount, net_payable, currency, paid_at
		FROM job_financials WHERE job_id = $1`, jobID).Scan(
		&f.JobID, &f.CompanyID, &f.CleanerID, &f.PackageType,
		&f.BaseAmount, &f.BaseTax, &f.TipAmount, &f.TipTax,
		&f.PlatformFee, &f.PlatformFeeTax, &f.ProcessingFee,
		&f.GrossAmount, &f.NetPayable, &f.Currency, &f.PaidAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrFinancialNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (r *PostgresRepository) HasJobTransaction(ctx context.Context, jobID uuid.UUID, txType domain.TransactionType) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM transactions WHERE job_id = $1 AND type = $2)`,
		jobID, txType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check job transaction: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) AppendTransaction(ctx context.Context, tx *domain.Transaction) error {
	return insertTransaction(ctx, r.db, tx)
}

// AppendWithdrawal locks the company row so concurrent withdrawals see each
// other's debits before checking the balance.
func (r *PostgresRepository) AppendWithdrawal(ctx context.Context, entry *domain.Transaction) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked uuid.UUID
	if err = tx.QueryRow(ctx, `SELECT id FROM companies WHERE id = $1 FOR UPDATE`, entry.CompanyID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrCompanyNotFound
		}
		return fmt.Errorf("failed to lock company: %w", err)
	}

	var balance int64
	if err = tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE company_id = $1`, entry.CompanyID).Scan(&balance); err != nil {
		return fmt.Errorf("failed to compute balance: %w", err)
	}
	if balance+entry.Amount < 0 {
		return domain.ErrInsufficientBalance
	}

	if err = insertTransaction(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) GetBalance(ctx context.Context, companyID uuid.UUID) (int64, error) {
	var balance int64
	if err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE company_id = $1`, companyID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("failed to compute balance: %w", err)
	}
	return balance, nil
}

func (r *PostgresRepository) ListTransactions(ctx context.Context, companyID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, reference_number, company_id, job_id, type, direction, amount, currency, description, created_at
		FROM transactions
		WHERE company_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, companyID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := []domain.Transaction{}
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.ReferenceNumber, &t.CompanyID, &t.JobID, &t.Type, &t.Direction, &t.Amount, &t.Currency, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (r *PostgresRepository) InsertOfflineJob(ctx context.Context, job *domain.OfflineJob) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO offline_jobs (id, company_id, customer_name, car_plate, service_price, vat_amount, total, currency, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.CompanyID, job.CustomerName, job.CarPlate, job.ServicePrice, job.VATAmount, job.Total, job.Currency, job.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to insert offline job: %w", err)
	}
	return nil
}

func insertTransaction(ctx context.Context, q execer, t *domain.Transaction) error {
	_, err := q.Exec(ctx, `
		INSERT INTO transactions (id, reference_number, company_id, job_id, type, direction, amount, currency, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.ReferenceNumber, t.CompanyID, t.JobID, t.Type, t.Direction, t.Amount, t.Currency, t.Description, t.CreatedAt)
	if err == nil {
		return nil
	}
	code, constraint := pgErrorCode(err)
	switch {
	case code == pgUniqueViolation && constraint == jobEntryIndex && t.Type == domain.TxRefund:
		return domain.ErrAlreadyRefunded
	case code == pgUniqueViolation && constraint == jobEntryIndex:
		return domain.ErrDuplicateEntry
	case code == pgUniqueViolation && constraint == txReferenceIndex:
		return domain.ErrDuplicateReference
	case code == pgForeignKeyViolation:
		return domain.ErrCompanyNotFound
	}
	return fmt.Errorf("failed to insert %s transaction: %w", t.Type, err)
}
