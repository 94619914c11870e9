/**
 * @description
 * LedgerEngine records every money movement for a company as an append-only
 * transaction. Balances are always derived from the transaction log.
 *
 * @notes
 * - Payment and refund entries for jobs are prepared here and appended by the
 *   store inside the same unit of work as the job transition that causes them.
 * - Admin payments and withdrawals are posted directly.
 */

package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/omerc321/washapp-sub002/internal/domain"
	"github.com/omerc321/washapp-sub002/internal/observability"
)

// Repository defines the persistence the ledger needs.
type Repository interface {
	GetCompany(ctx context.Context, companyID uuid.UUID) (*domain.Company, error)
	CountCleaners(ctx context.Context, companyID uuid.UUID) (int, error)
	GetJobFinancial(ctx context.Context, jobID uuid.UUID) (*domain.JobFinancial, error)
	HasJobTransaction(ctx context.Context, jobID uuid.UUID, txType domain.TransactionType) (bool, error)
	AppendTransaction(ctx context.Context, tx *domain.Transaction) error
	// AppendWithdrawal appends tx only if the company balance covers it, atomically.
	AppendWithdrawal(ctx context.Context, tx *domain.Transaction) error
	GetBalance(ctx context.Context, companyID uuid.UUID) (int64, error)
	ListTransactions(ctx context.Context, companyID uuid.UUID, limit, offset int) ([]domain.Transaction, error)
	InsertOfflineJob(ctx context.Context, job *domain.OfflineJob) error
}

// Engine implements the ledger operations.
type Engine struct {
	repo     Repository
	rates    Rates
	currency string
	logger   logrus.FieldLogger
	now      func() time.Time
}

// NewEngine creates a ledger engine.
func NewEngine(repo Repository, rates Rates, currency string, logger logrus.FieldLogger) *Engine {
	if strings.TrimSpace(currency) == "" {
		currency = "AED"
	}
	return &Engine{
		repo:     repo,
		rates:    rates,
		currency: currency,
		logger:   logger.WithField("component", "ledger"),
		now:      time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Currency returns the settlement currency.
func (e *Engine) Currency() string { return e.currency }

// Rates returns the configured fee parameters.
func (e *Engine) Rates() Rates { return e.rates }

// PolicyFor resolves the fee strategy for a company.
func (e *Engine) PolicyFor(company domain.Company) (FeePolicy, error) {
	return ResolvePolicy(company, e.rates)
}

// Quote prices a job for the given company.
func (e *Engine) Quote(ctx context.Context, companyID uuid.UUID, base, tip int64) (Breakdown, *domain.Company, error) {
	company, err := e.repo.GetCompany(ctx, companyID)
	if err != nil {
		return Breakdown{}, nil, err
	}
	policy, err := e.PolicyFor(*company)
	if err != nil {
		return Breakdown{}, nil, err
	}
	b, err := policy.Quote(base, tip)
	if err != nil {
		return Breakdown{}, nil, err
	}
	return b, company, nil
}

// NewFinancial turns a breakdown into the write-once financial row for a job.
func (e *Engine) NewFinancial(job *domain.Job, companyID uuid.UUID, b Breakdown, paidAt time.Time) *domain.JobFinancial {
	return &domain.JobFinancial{
		JobID:          job.ID,
		CompanyID:      companyID,
		PackageType:    b.PackageType,
		BaseAmount:     b.BaseAmount,
		BaseTax:        b.BaseTax,
		TipAmount:      b.TipAmount,
		TipTax:         b.TipTax,
		PlatformFee:    b.PlatformFee,
		PlatformFeeTax: b.PlatformFeeTax,
		ProcessingFee:  b.ProcessingFee,
		GrossAmount:    b.GrossAmount,
		NetPayable:     b.NetPayable,
		Currency:       e.currency,
		PaidAt:         paidAt,
	}
}

// PreparePayment builds the customer_payment entry for a job from its breakdown.
func (e *Engine) PreparePayment(job *domain.Job, fin *domain.JobFinancial) domain.Transaction {
	now := e.now()
	jobID := job.ID
	return domain.Transaction{
		ID:              uuid.New(),
		ReferenceNumber: domain.NewReferenceNumber("TXN", now),
		CompanyID:       fin.CompanyID,
		JobID:           &jobID,
		Type:            domain.TxCustomerPayment,
		Direction:       domain.TxCustomerPayment.Direction(),
		Amount:          fin.GrossAmount,
		Currency:        fin.Currency,
		Description:     fmt.Sprintf("Car wash payment for job %s", job.ID),
		CreatedAt:       now,
	}
}

// PrepareRefund builds the entries that fully reverse a job's payment. When the
// customer_payment was never posted (the job was refunded or cancelled before
// completion) the payment is recorded first, so the refund always has an
// original to offset and the company balance nets to zero.
// A job that already has a refund is rejected before anything is written.
func (e *Engine) PrepareRefund(ctx context.Context, job *domain.Job) ([]domain.Transaction, *domain.JobFinancial, error) {
	fin, err := e.repo.GetJobFinancial(ctx, job.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load financial for job %s: %w", job.ID, err)
	}
	refunded, err := e.repo.HasJobTransaction(ctx, job.ID, domain.TxRefund)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check refunds for job %s: %w", job.ID, err)
	}
	if refunded {
		return nil, nil, domain.ErrAlreadyRefunded
	}
	paid, err := e.repo.HasJobTransaction(ctx, job.ID, domain.TxCustomerPayment)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check payments for job %s: %w", job.ID, err)
	}

	var entries []domain.Transaction
	if !paid {
		entries = append(entries, e.PreparePayment(job, fin))
	}
	now := e.now()
	jobID := job.ID
	entries = append(entries, domain.Transaction{
		ID:              uuid.New(),
		ReferenceNumber: domain.NewReferenceNumber("RFD", now),
		CompanyID:       fin.CompanyID,
		JobID:           &jobID,
		Type:            domain.TxRefund,
		Direction:       domain.TxRefund.Direction(),
		Amount:          -fin.GrossAmount,
		Currency:        fin.Currency,
		Description:     fmt.Sprintf("Refund for job %s", job.ID),
		CreatedAt:       now,
	})
	return entries, fin, nil
}

// PostAdminPayment credits a company with an admin-initiated payment.
func (e *Engine) PostAdminPayment(ctx context.Context, companyID uuid.UUID, amount int64, description string) (tx *domain.Transaction, err error) {
	ctx, span := observability.StartSpan(ctx, "ledger.admin_payment", attribute.String("company.id", companyID.String()))
	defer func() { observability.End(span, err) }()

	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if _, err = e.repo.GetCompany(ctx, companyID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(description) == "" {
		description = "Admin payment"
	}

	tx = e.entry(companyID, domain.TxAdminPayment, amount, description)
	if err = e.repo.AppendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to post admin payment: %w", err)
	}
	e.logger.WithFields(logrus.Fields{"company_id": companyID, "amount": amount, "reference": tx.ReferenceNumber}).Info("admin payment posted")
	return tx, nil
}

// RequestWithdrawal debits the company balance. Requests above the current
// balance fail with ErrInsufficientBalance and post nothing.
func (e *Engine) RequestWithdrawal(ctx context.Context, companyID uuid.UUID, amount int64) (tx *domain.Transaction, err error) {
	ctx, span := observability.StartSpan(ctx, "ledger.withdrawal", attribute.String("company.id", companyID.String()))
	defer func() { observability.End(span, err) }()

	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	tx = e.entry(companyID, domain.TxWithdrawal, -amount, "Withdrawal request")
	if err = e.repo.AppendWithdrawal(ctx, tx); err != nil {
		return nil, err
	}
	e.logger.WithFields(logrus.Fields{"company_id": companyID, "amount": amount, "reference": tx.ReferenceNumber}).Info("withdrawal posted")
	return tx, nil
}

// Balance is the signed sum of all the company's transactions.
func (e *Engine) Balance(ctx context.Context, companyID uuid.UUID) (int64, error) {
	return e.repo.GetBalance(ctx, companyID)
}

// History lists a company's transactions, newest first.
func (e *Engine) History(ctx context.Context, companyID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return e.repo.ListTransactions(ctx, companyID, limit, offset)
}

// RecordOfflineJob stores a manually recorded wash with its VAT breakdown.
func (e *Engine) RecordOfflineJob(ctx context.Context, companyID uuid.UUID, customerName, carPlate string, servicePrice int64) (*domain.OfflineJob, error) {
	if servicePrice <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	company, err := e.repo.GetCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if company.PackageType != domain.PackageOffline {
		return nil, fmt.Errorf("company %s is on the %s package: %w", companyID, company.PackageType, domain.ErrInvalidPackage)
	}

	vat, total := OfflineAmounts(servicePrice, e.rates.VATPercent)
	job := &domain.OfflineJob{
		ID:           uuid.New(),
		CompanyID:    companyID,
		CustomerName: strings.TrimSpace(customerName),
		CarPlate:     strings.TrimSpace(carPlate),
		ServicePrice: servicePrice,
		VATAmount:    vat,
		Total:        total,
		Currency:     e.currency,
		RecordedAt:   e.now(),
	}
	if err := e.repo.InsertOfflineJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to record offline job: %w", err)
	}
	return job, nil
}

// SubscriptionQuote prices the monthly subscription for a company's current cleaner count.
func (e *Engine) SubscriptionQuote(ctx context.Context, companyID uuid.UUID) (SubscriptionQuote, error) {
	company, err := e.repo.GetCompany(ctx, companyID)
	if err != nil {
		return SubscriptionQuote{}, err
	}
	if company.PackageType != domain.PackageSubscription {
		return SubscriptionQuote{}, fmt.Errorf("company %s is on the %s package: %w", companyID, company.PackageType, domain.ErrInvalidPackage)
	}
	count, err := e.repo.CountCleaners(ctx, companyID)
	if err != nil {
		return SubscriptionQuote{}, fmt.Errorf("failed to count cleaners: %w", err)
	}
	return SubscriptionFee(count, e.rates), nil
}

func (e *Engine) entry(companyID uuid.UUID, txType domain.TransactionType, amount int64, description string) *domain.Transaction {
	now := e.now()
	prefix := "TXN"
	if txType == domain.TxWithdrawal {
		prefix = "WDR"
	}
	return &domain.Transaction{
		ID:              uuid.New(),
		ReferenceNumber: domain.NewReferenceNumber(prefix, now),
		CompanyID:       companyID,
		Type:            txType,
		Direction:       txType.Direction(),
		Amount:          amount,
		Currency:        e.currency,
		Description:     description,
		CreatedAt:       now,
	}
}
