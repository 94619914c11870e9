package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/omerc321/washapp-sub002/internal/domain"
)

func (m *Store) OpenShift(_ context.Context, s *domain.CleanerShift) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cleaners[s.CleanerID]
	if !ok {
		return domain.ErrCleanerNotFound
	}
	if _, open := m.openShiftLocked(s.CleanerID); open {
		return domain.ErrShiftAlreadyOpen
	}
	if c.Status != domain.CleanerOffDuty {
		return domain.ErrInvalidTransition
	}

	m.shifts[s.ID] = *s
	c.Status = domain.CleanerOnDuty
	if s.StartLocation != nil {
		loc := *s.StartLocation
		at := s.ShiftStart
		c.LastLocation = &loc
		c.LastLocationUpdate = &at
	}
	m.cleaners[c.ID] = c
	return nil
}

func (m *Store) UpdateCleanerLocation(_ context.Context, cleanerID uuid.UUID, p domain.Point, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cleaners[cleanerID]
	if !ok {
		return domain.ErrCleanerNotFound
	}
	c.LastLocation = &p
	c.LastLocationUpdate = &at
	m.cleaners[cleanerID] = c
	return nil
}

// CloseShift closes the open shift and sets the cleaner off duty. With
// staleBefore set, it only acts while the cleaner is still on duty with a
// heartbeat older than staleBefore. Without it, a non-nil end is also stored
// as the cleaner's last location. A nil shift with a nil error means the
// cleaner had no open shift and only the status was corrected.
func (m *Store) CloseShift(_ context.Context, cleanerID uuid.UUID, at time.Time, end *domain.Point, staleBefore *time.Time) (*domain.CleanerShift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cleaners[cleanerID]
	if !ok {
		return nil, domain.ErrCleanerNotFound
	}
	if c.Status != domain.CleanerOnDuty {
		return nil, domain.ErrInvalidTransition
	}
	if staleBefore != nil && c.LastLocationUpdate != nil && !c.LastLocationUpdate.Before(*staleBefore) {
		return nil, domain.ErrInvalidTransition
	}

	var closed *domain.CleanerShift
	if s, open := m.openShiftLocked(cleanerID); open {
		duration := domain.ShiftDurationMinutes(s.ShiftStart, at)
		s.ShiftEnd = &at
		s.DurationMinutes = &duration
		if end != nil {
			loc := *end
			s.EndLocation = &loc
		}
		m.shifts[s.ID] = s
		closed = &s
	}

	c.Status = domain.CleanerOffDuty
	if end != nil && staleBefore == nil {
		loc := *end
		c.LastLocation = &loc
		c.LastLocationUpdate = &at
	}
	m.cleaners[cleanerID] = c
	return closed, nil
}

func (m *Store) ListStaleCleaners(_ context.Context, cutoff time.Time) ([]domain.Cleaner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Cleaner{}
	for _, c := range m.cleaners {
		if c.Status != domain.CleanerOnDuty {
			continue
		}
		if c.LastLocationUpdate == nil || c.LastLocationUpdate.Before(cutoff) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Store) GetOpenShift(_ context.Context, cleanerID uuid.UUID) (*domain.CleanerShift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.openShiftLocked(cleanerID)
	if !ok {
		return nil, domain.ErrNoOpenShift
	}
	return &s, nil
}

func (m *Store) ListShifts(_ context.Context, cleanerID uuid.UUID, limit int) ([]domain.CleanerShift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.CleanerShift{}
	for _, s := range m.shifts {
		if s.CleanerID == cleanerID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShiftStart.After(out[j].ShiftStart) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) openShiftLocked(cleanerID uuid.UUID) (domain.CleanerShift, bool) {
	for _, s := range m.shifts {
		if s.CleanerID == cleanerID && s.IsOpen() {
			return s, true
		}
	}
	return domain.CleanerShift{}, false
}
