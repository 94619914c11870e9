// Package company manages company registration, cleaners and service-area
// geofences. The fee policy for a company is resolved and validated here once,
// when the company registers.
package company

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/omerc321/washapp-sub002/internal/domain"
	"github.com/omerc321/washapp-sub002/internal/geo"
	"github.com/omerc321/washapp-sub002/internal/ledger"
)

// Repository defines the persistence needed for company management.
type Repository interface {
	CreateCompany(ctx context.Context, c *domain.Company) error
	GetCompany(ctx context.Context, companyID uuid.UUID) (*domain.Company, error)
	CreateCleaner(ctx context.Context, c *domain.Cleaner) error
	UpsertGeofence(ctx context.Context, g *domain.CompanyGeofence) error
	DeleteGeofence(ctx context.Context, companyID, geofenceID uuid.UUID) error
	ListGeofences(ctx context.Context) ([]domain.CompanyGeofence, error)
	ListCompanyGeofences(ctx context.Context, companyID uuid.UUID) ([]domain.CompanyGeofence, error)
}

// Service implements company management.
type Service struct {
	repo   Repository
	rates  ledger.Rates
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewService creates a company service.
func NewService(repo Repository, rates ledger.Rates, logger logrus.FieldLogger) *Service {
	return &Service{repo: repo, rates: rates, logger: logger.WithField("component", "company"), now: time.Now}
}

// RegisterCompany validates the package settings and stores the company.
func (s *Service) RegisterCompany(ctx context.Context, name string, pkg domain.PackageType, customFee int64) (*domain.Company, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrNameRequired
	}
	c := &domain.Company{
		ID:                uuid.New(),
		Name:              name,
		PackageType:       pkg,
		CustomPlatformFee: customFee,
		CreatedAt:         s.now(),
	}
	if _, err := ledger.ResolvePolicy(*c, s.rates); err != nil {
		return nil, err
	}
	if err := s.repo.CreateCompany(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create company: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"company_id": c.ID, "package": c.PackageType}).Info("company registered")
	return c, nil
}

// AddCleaner registers an off-duty cleaner under a company.
func (s *Service) AddCleaner(ctx context.Context, companyID uuid.UUID, name string) (*domain.Cleaner, error) {
	if strings.TrimSpace(name) == "" {
		return nil, domain.ErrNameRequired
	}
	if _, err := s.repo.GetCompany(ctx, companyID); err != nil {
		return nil, err
	}
	c := &domain.Cleaner{
		ID:        uuid.New(),
		CompanyID: companyID,
		Name:      strings.TrimSpace(name),
		Status:    domain.CleanerOffDuty,
		CreatedAt: s.now(),
	}
	if err := s.repo.CreateCleaner(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create cleaner: %w", err)
	}
	return c, nil
}

// SaveGeofence creates a geofence, or replaces it when id is non-nil.
func (s *Service) SaveGeofence(ctx context.Context, companyID uuid.UUID, id *uuid.UUID, name string, polygon []domain.Point) (*domain.CompanyGeofence, error) {
	if err := geo.ValidatePolygon(polygon); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetCompany(ctx, companyID); err != nil {
		return nil, err
	}
	now := s.now()
	g := &domain.CompanyGeofence{
		ID:        uuid.New(),
		CompanyID: companyID,
		Name:      strings.TrimSpace(name),
		Polygon:   polygon,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if id != nil {
		g.ID = *id
	}
	if err := s.repo.UpsertGeofence(ctx, g); err != nil {
		return nil, fmt.Errorf("failed to save geofence: %w", err)
	}
	return g, nil
}

// DeleteGeofence removes one of the company's geofences.
func (s *Service) DeleteGeofence(ctx context.Context, companyID, geofenceID uuid.UUID) error {
	return s.repo.DeleteGeofence(ctx, companyID, geofenceID)
}

// Geofences lists a company's geofences.
func (s *Service) Geofences(ctx context.Context, companyID uuid.UUID) ([]domain.CompanyGeofence, error) {
	return s.repo.ListCompanyGeofences(ctx, companyID)
}

// CompaniesServing returns the ids of companies whose service area contains p.
func (s *Service) CompaniesServing(ctx context.Context, p domain.Point) ([]uuid.UUID, error) {
	fences, err := s.repo.ListGeofences(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list geofences: %w", err)
	}
	eligible := geo.EligibleCompanies(p, fences)
	ids := make([]uuid.UUID, 0, len(eligible))
	for id := range eligible {
		ids = append(ids, id)
	}
	return ids, nil
}
