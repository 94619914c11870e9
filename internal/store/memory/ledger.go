package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/omerc321/washapp-sub002/internal/domain"
)

func (m *Store) GetJobFinancial(_ context.Context, jobID uuid.UUID) (*domain.JobFinancial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fin, ok := m.financials[jobID]
	if !ok {
		return nil, domain.ErrFinancialNotFound
	}
	return &fin, nil
}

func (m *Store) HasJobTransaction(_ context.Context, jobID uuid.UUID, txType domain.TransactionType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasJobTransactionLocked(jobID, txType), nil
}

func (m *Store) AppendTransaction(_ context.Context, tx *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.companies[tx.CompanyID]; !ok {
		return domain.ErrCompanyNotFound
	}
	if err := m.checkEntryLocked(*tx); err != nil {
		return err
	}
	m.transactions = append(m.transactions, *tx)
	return nil
}

func (m *Store) AppendWithdrawal(_ context.Context, tx *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.companies[tx.CompanyID]; !ok {
		return domain.ErrCompanyNotFound
	}
	if m.balanceLocked(tx.CompanyID)+tx.Amount < 0 {
		return domain.ErrInsufficientBalance
	}
	if err := m.checkEntryLocked(*tx); err != nil {
		return err
	}
	m.transactions = append(m.transactions, *tx)
	return nil
}

func (m *Store) GetBalance(_ context.Context, companyID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(companyID), nil
}

func (m *Store) ListTransactions(_ context.Context, companyID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Transaction{}
	for _, tx := range m.transactions {
		if tx.CompanyID == companyID {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []domain.Transaction{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) InsertOfflineJob(_ context.Context, job *domain.OfflineJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offlineJobs = append(m.offlineJobs, *job)
	return nil
}

func (m *Store) balanceLocked(companyID uuid.UUID) int64 {
	var sum int64
	for _, tx := range m.transactions {
		if tx.CompanyID == companyID {
			sum += tx.Amount
		}
	}
	return sum
}

func (m *Store) hasJobTransactionLocked(jobID uuid.UUID, txType domain.TransactionType) bool {
	for _, tx := range m.transactions {
		if tx.JobID != nil && *tx.JobID == jobID && tx.Type == txType {
			return true
		}
	}
	return false
}

// checkEntryLocked mirrors the unique reference number and the unique
// (job_id, type) index on job-linked payment and refund entries.
func (m *Store) checkEntryLocked(tx domain.Transaction) error {
	for _, existing := range m.transactions {
		if existing.ReferenceNumber == tx.ReferenceNumber {
			return domain.ErrDuplicateReference
		}
	}
	if tx.JobID == nil {
		return nil
	}
	if tx.Type != domain.TxCustomerPayment && tx.Type != domain.TxRefund {
		return nil
	}
	if m.hasJobTransactionLocked(*tx.JobID, tx.Type) {
		if tx.Type == domain.TxRefund {
			return domain.ErrAlreadyRefunded
		}
		return domain.ErrDuplicateEntry
	}
	return nil
}
