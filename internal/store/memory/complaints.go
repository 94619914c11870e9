package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/omerc321/washapp-sub002/internal/domain"
)

func (m *Store) CreateComplaint(_ context.Context, c *domain.Complaint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[c.JobID]; !ok {
		return domain.ErrJobNotFound
	}
	m.complaints[c.ID] = *c
	return nil
}

func (m *Store) GetComplaint(_ context.Context, complaintID uuid.UUID) (*domain.Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.complaints[complaintID]
	if !ok {
		return nil, domain.ErrComplaintNotFound
	}
	return &c, nil
}

func (m *Store) ListComplaints(_ context.Context, companyID uuid.UUID, status *domain.ComplaintStatus) ([]domain.Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Complaint{}
	for _, c := range m.complaints {
		if c.CompanyID != companyID {
			continue
		}
		if status != nil && c.Status != *status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Store) TransitionComplaint(_ context.Context, complaintID, companyID uuid.UUID, from []domain.ComplaintStatus, to domain.ComplaintStatus, resolution *string, at time.Time) (*domain.Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.complaints[complaintID]
	if !ok || c.CompanyID != companyID {
		return nil, domain.ErrComplaintNotFound
	}
	if !containsStatus(from, c.Status) {
		return nil, domain.ErrInvalidTransition
	}
	c.Status = to
	c.UpdatedAt = at
	if resolution != nil {
		r := *resolution
		c.Resolution = &r
		c.ResolvedAt = &at
	}
	m.complaints[complaintID] = c
	return &c, nil
}

// RefundComplaint appends the refund entries and marks the complaint refunded together.
func (m *Store) RefundComplaint(_ context.Context, complaintID, companyID uuid.UUID, at time.Time, entries []domain.Transaction) (*domain.Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.complaints[complaintID]
	if !ok || c.CompanyID != companyID {
		return nil, domain.ErrComplaintNotFound
	}
	if !c.Status.IsOpen() {
		return nil, domain.ErrInvalidTransition
	}
	if c.Type != domain.ComplaintRefundRequest {
		return nil, domain.ErrNotRefundable
	}
	for _, e := range entries {
		if err := m.checkEntryLocked(e); err != nil {
			return nil, err
		}
	}

	m.transactions = append(m.transactions, entries...)
	c.Status = domain.ComplaintRefunded
	c.UpdatedAt = at
	c.ResolvedAt = &at
	m.complaints[complaintID] = c
	return &c, nil
}

func containsStatus(set []domain.ComplaintStatus, s domain.ComplaintStatus) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}
