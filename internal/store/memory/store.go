// Package memory is an in-memory store with the same conditional-transition
// semantics as the Postgres repository. Every method runs under one mutex, so
// each call is a single atomic unit. Used for local development
// (STORE_DRIVER=memory) and by the engine tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/omerc321/washapp-sub002/internal/company"
	"github.com/omerc321/washapp-sub002/internal/complaint"
	"github.com/omerc321/washapp-sub002/internal/dispatch"
	"github.com/omerc321/washapp-sub002/internal/domain"
	"github.com/omerc321/washapp-sub002/internal/ledger"
	"github.com/omerc321/washapp-sub002/internal/shift"
)

var (
	_ company.Repository   = (*Store)(nil)
	_ ledger.Repository    = (*Store)(nil)
	_ shift.Repository     = (*Store)(nil)
	_ dispatch.Repository  = (*Store)(nil)
	_ complaint.Repository = (*Store)(nil)
)

// Store is safe for concurrent access. Getters return copies.
type Store struct {
	mu sync.Mutex

	companies    map[uuid.UUID]domain.Company
	cleaners     map[uuid.UUID]domain.Cleaner
	shifts       map[uuid.UUID]domain.CleanerShift
	geofences    map[uuid.UUID]domain.CompanyGeofence
	jobs         map[uuid.UUID]domain.Job
	financials   map[uuid.UUID]domain.JobFinancial
	transactions []domain.Transaction
	offlineJobs  []domain.OfflineJob
	complaints   map[uuid.UUID]domain.Complaint
}

// New returns an empty store.
func New() *Store {
	return &Store{
		companies:  make(map[uuid.UUID]domain.Company),
		cleaners:   make(map[uuid.UUID]domain.Cleaner),
		shifts:     make(map[uuid.UUID]domain.CleanerShift),
		geofences:  make(map[uuid.UUID]domain.CompanyGeofence),
		jobs:       make(map[uuid.UUID]domain.Job),
		financials: make(map[uuid.UUID]domain.JobFinancial),
		complaints: make(map[uuid.UUID]domain.Complaint),
	}
}

// Ping always succeeds.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (m *Store) Close() {}

// ── Companies, cleaners, geofences ───────────────────

func (m *Store) CreateCompany(_ context.Context, c *domain.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.companies[c.ID] = *c
	return nil
}

func (m *Store) GetCompany(_ context.Context, companyID uuid.UUID) (*domain.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[companyID]
	if !ok {
		return nil, domain.ErrCompanyNotFound
	}
	return &c, nil
}

func (m *Store) CreateCleaner(_ context.Context, c *domain.Cleaner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.companies[c.CompanyID]; !ok {
		return domain.ErrCompanyNotFound
	}
	m.cleaners[c.ID] = *c
	return nil
}

func (m *Store) GetCleaner(_ context.Context, cleanerID uuid.UUID) (*domain.Cleaner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cleaners[cleanerID]
	if !ok {
		return nil, domain.ErrCleanerNotFound
	}
	return &c, nil
}

func (m *Store) CountCleaners(_ context.Context, companyID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.cleaners {
		if c.CompanyID == companyID {
			n++
		}
	}
	return n, nil
}

func (m *Store) UpsertGeofence(_ context.Context, g *domain.CompanyGeofence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.geofences[g.ID]; ok && existing.CompanyID != g.CompanyID {
		return domain.ErrGeofenceNotFound
	}
	cp := *g
	cp.Polygon = append([]domain.Point(nil), g.Polygon...)
	m.geofences[g.ID] = cp
	return nil
}

func (m *Store) DeleteGeofence(_ context.Context, companyID, geofenceID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.geofences[geofenceID]
	if !ok || g.CompanyID != companyID {
		return domain.ErrGeofenceNotFound
	}
	delete(m.geofences, geofenceID)
	return nil
}

func (m *Store) ListGeofences(_ context.Context) ([]domain.CompanyGeofence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.geofencesLocked(nil), nil
}

func (m *Store) ListCompanyGeofences(_ context.Context, companyID uuid.UUID) ([]domain.CompanyGeofence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.geofencesLocked(&companyID), nil
}

func (m *Store) geofencesLocked(companyID *uuid.UUID) []domain.CompanyGeofence {
	out := make([]domain.CompanyGeofence, 0, len(m.geofences))
	for _, g := range m.geofences {
		if companyID != nil && g.CompanyID != *companyID {
			continue
		}
		cp := g
		cp.Polygon = append([]domain.Point(nil), g.Polygon...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
