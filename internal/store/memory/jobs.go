package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/omerc321/washapp-sub002/internal/domain"
)

func (m *Store) CreatePaidJob(_ context.Context, job *domain.Job, fin *domain.JobFinancial) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return domain.ErrFinancialExists
	}
	if _, ok := m.financials[job.ID]; ok {
		return domain.ErrFinancialExists
	}
	m.jobs[job.ID] = *job
	m.financials[job.ID] = *fin
	return nil
}

func (m *Store) GetJob(_ context.Context, jobID uuid.UUID) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &j, nil
}

func (m *Store) ListPaidJobs(_ context.Context, companyID uuid.UUID, paidAfter time.Time) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Job{}
	for _, j := range m.jobs {
		if j.Status != domain.JobStatusPaid || j.PaidAt == nil || !j.PaidAt.After(paidAfter) {
			continue
		}
		if j.CompanyID != nil && *j.CompanyID != companyID {
			continue
		}
		out = append(out, j)
	}
	sortByPaidAt(out)
	return out, nil
}

func (m *Store) ListPaidJobsBefore(_ context.Context, cutoff time.Time) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Job{}
	for _, j := range m.jobs {
		if j.Status == domain.JobStatusPaid && j.PaidAt != nil && !j.PaidAt.After(cutoff) {
			out = append(out, j)
		}
	}
	sortByPaidAt(out)
	return out, nil
}

// AcceptJob moves a paid job to assigned and the cleaner to busy in one step.
func (m *Store) AcceptJob(_ context.Context, jobID, cleanerID uuid.UUID, at, paidAfter time.Time) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cleaner, ok := m.cleaners[cleanerID]
	if !ok {
		return nil, domain.ErrCleanerNotFound
	}
	if cleaner.Status != domain.CleanerOnDuty {
		return nil, domain.ErrInvalidTransition
	}
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if j.Status != domain.JobStatusPaid {
		return nil, acceptConflict(j.Status)
	}
	if j.PaidAt == nil || !j.PaidAt.After(paidAfter) {
		return nil, domain.ErrJobExpired
	}

	j.Status = domain.JobStatusAssigned
	j.CleanerID = &cleanerID
	if j.CompanyID == nil {
		companyID := cleaner.CompanyID
		j.CompanyID = &companyID
	}
	j.AssignedAt = &at
	m.jobs[jobID] = j

	cleaner.Status = domain.CleanerBusy
	m.cleaners[cleanerID] = cleaner

	if fin, ok := m.financials[jobID]; ok && fin.CleanerID == nil {
		fin.CleanerID = &cleanerID
		m.financials[jobID] = fin
	}
	return &j, nil
}

func (m *Store) StartJob(_ context.Context, jobID, cleanerID uuid.UUID, at time.Time) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if j.Status != domain.JobStatusAssigned {
		return nil, domain.ErrInvalidTransition
	}
	if j.CleanerID == nil || *j.CleanerID != cleanerID {
		return nil, domain.ErrNotAssignedCleaner
	}
	j.Status = domain.JobStatusInProgress
	j.StartedAt = &at
	m.jobs[jobID] = j
	return &j, nil
}

func (m *Store) CompleteJob(_ context.Context, jobID, cleanerID uuid.UUID, proof string, at time.Time, payment domain.Transaction) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if j.Status != domain.JobStatusInProgress {
		return nil, domain.ErrInvalidTransition
	}
	if j.CleanerID == nil || *j.CleanerID != cleanerID {
		return nil, domain.ErrNotAssignedCleaner
	}
	if err := m.checkEntryLocked(payment); err != nil {
		return nil, err
	}

	j.Status = domain.JobStatusCompleted
	j.CompletionProof = &proof
	j.CompletedAt = &at
	m.jobs[jobID] = j
	m.releaseCleanerLocked(cleanerID)
	m.transactions = append(m.transactions, payment)
	return &j, nil
}

func (m *Store) CancelJob(_ context.Context, jobID, companyID uuid.UUID, reason string, at time.Time) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok || j.CompanyID == nil || *j.CompanyID != companyID {
		return nil, domain.ErrJobNotFound
	}
	if j.Status != domain.JobStatusAssigned && j.Status != domain.JobStatusInProgress {
		return nil, domain.ErrInvalidTransition
	}
	j.Status = domain.JobStatusCancelled
	j.CancelReason = &reason
	j.CancelledAt = &at
	m.jobs[jobID] = j
	if j.CleanerID != nil {
		m.releaseCleanerLocked(*j.CleanerID)
	}
	return &j, nil
}

func (m *Store) RefundPaidJob(_ context.Context, jobID uuid.UUID, at time.Time, entries []domain.Transaction) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if j.Status != domain.JobStatusPaid {
		return nil, domain.ErrInvalidTransition
	}
	for _, e := range entries {
		if err := m.checkEntryLocked(e); err != nil {
			return nil, err
		}
	}
	j.Status = domain.JobStatusRefunded
	j.RefundedAt = &at
	m.jobs[jobID] = j
	m.transactions = append(m.transactions, entries...)
	return &j, nil
}

func (m *Store) RateJob(_ context.Context, jobID uuid.UUID, rating int, review string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if j.Status != domain.JobStatusCompleted || j.Rating != nil {
		return nil, domain.ErrInvalidTransition
	}
	j.Rating = &rating
	if review != "" {
		j.Review = &review
	}
	m.jobs[jobID] = j
	return &j, nil
}

// releaseCleanerLocked returns a busy cleaner to on_duty.
func (m *Store) releaseCleanerLocked(cleanerID uuid.UUID) {
	c, ok := m.cleaners[cleanerID]
	if ok && c.Status == domain.CleanerBusy {
		c.Status = domain.CleanerOnDuty
		m.cleaners[cleanerID] = c
	}
}

func acceptConflict(status domain.JobStatus) error {
	switch status {
	case domain.JobStatusAssigned, domain.JobStatusInProgress, domain.JobStatusCompleted, domain.JobStatusCancelled:
		return domain.ErrAlreadyAssigned
	default:
		return domain.ErrInvalidTransition
	}
}

func sortByPaidAt(jobs []domain.Job) {
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].PaidAt.Before(*jobs[k].PaidAt)
	})
}
