package company_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omerc321/washapp-sub002/internal/company"
	"github.com/omerc321/washapp-sub002/internal/domain"
	"github.com/omerc321/washapp-sub002/internal/ledger"
	"github.com/omerc321/washapp-sub002/internal/store/memory"
)

func newService() *company.Service {
	logger, _ := test.NewNullLogger()
	return company.NewService(memory.New(), ledger.DefaultRates(), logger)
}

func square(lat, lng, size float64) []domain.Point {
	return []domain.Point{
		{Lat: lat, Lng: lng},
		{Lat: lat, Lng: lng + size},
		{Lat: lat + size, Lng: lng + size},
		{Lat: lat + size, Lng: lng},
	}
}

func TestRegisterCompany_ValidatesPackage(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	c, err := svc.RegisterCompany(ctx, "  Sparkle  ", domain.PackageCustom, 1500)
	require.NoError(t, err)
	assert.Equal(t, "Sparkle", c.Name)
	assert.Equal(t, int64(1500), c.CustomPlatformFee)

	_, err = svc.RegisterCompany(ctx, "", domain.PackagePayPerWash, 0)
	assert.ErrorIs(t, err, domain.ErrNameRequired)

	_, err = svc.RegisterCompany(ctx, "Weekly", domain.PackageType("weekly"), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidPackage)

	_, err = svc.RegisterCompany(ctx, "Negative", domain.PackageCustom, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestAddCleaner(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	c, err := svc.RegisterCompany(ctx, "Sparkle", domain.PackagePayPerWash, 0)
	require.NoError(t, err)

	cleaner, err := svc.AddCleaner(ctx, c.ID, "Ali")
	require.NoError(t, err)
	assert.Equal(t, domain.CleanerOffDuty, cleaner.Status)
	assert.Equal(t, c.ID, cleaner.CompanyID)

	_, err = svc.AddCleaner(ctx, c.ID, " ")
	assert.ErrorIs(t, err, domain.ErrNameRequired)

	_, err = svc.AddCleaner(ctx, uuid.New(), "Ghost")
	assert.ErrorIs(t, err, domain.ErrCompanyNotFound)
}

func TestGeofences_SaveReplaceDelete(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	c, err := svc.RegisterCompany(ctx, "Sparkle", domain.PackagePayPerWash, 0)
	require.NoError(t, err)

	_, err = svc.SaveGeofence(ctx, c.ID, nil, "line", square(25, 55, 1)[:2])
	assert.ErrorIs(t, err, domain.ErrInvalidPolygon)

	fence, err := svc.SaveGeofence(ctx, c.ID, nil, "Marina", square(25, 55, 0.2))
	require.NoError(t, err)

	_, err = svc.SaveGeofence(ctx, c.ID, &fence.ID, "Marina wide", square(25, 55, 0.5))
	require.NoError(t, err)

	fences, err := svc.Geofences(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, fences, 1)
	assert.Equal(t, "Marina wide", fences[0].Name)

	ids, err := svc.CompaniesServing(ctx, domain.Point{Lat: 25.4, Lng: 55.4})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{c.ID}, ids)

	require.NoError(t, svc.DeleteGeofence(ctx, c.ID, fence.ID))
	assert.ErrorIs(t, svc.DeleteGeofence(ctx, c.ID, fence.ID), domain.ErrGeofenceNotFound)

	ids, err = svc.CompaniesServing(ctx, domain.Point{Lat: 25.4, Lng: 55.4})
	require.NoError(t, err)
	assert.Empty(t, ids, "a company without geofences serves nowhere")
}

func TestCompaniesServing_UnionOfPolygons(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	a, err := svc.RegisterCompany(ctx, "A", domain.PackagePayPerWash, 0)
	require.NoError(t, err)
	b, err := svc.RegisterCompany(ctx, "B", domain.PackageSubscription, 0)
	require.NoError(t, err)

	_, err = svc.SaveGeofence(ctx, a.ID, nil, "north", square(25, 55, 0.1))
	require.NoError(t, err)
	_, err = svc.SaveGeofence(ctx, a.ID, nil, "south", square(24, 55, 0.1))
	require.NoError(t, err)
	_, err = svc.SaveGeofence(ctx, b.ID, nil, "south", square(24, 55, 0.1))
	require.NoError(t, err)

	ids, err := svc.CompaniesServing(ctx, domain.Point{Lat: 25.05, Lng: 55.05})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID}, ids)

	ids, err = svc.CompaniesServing(ctx, domain.Point{Lat: 24.05, Lng: 55.05})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, ids)
}
