package geo

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omerc321/washapp-sub002/internal/domain"
)

var square = []domain.Point{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 10}, {Lat: 10, Lng: 10}, {Lat: 10, Lng: 0}}

func TestIsInside_Square(t *testing.T) {
	assert.True(t, IsInside(domain.Point{Lat: 5, Lng: 5}, square))
	assert.False(t, IsInside(domain.Point{Lat: 50, Lng: 50}, square))
	assert.False(t, IsInside(domain.Point{Lat: -1, Lng: 5}, square))
}

func TestIsInside_ConcavePolygon(t *testing.T) {
	// U shape open to the north between lng 3 and 7.
	u := []domain.Point{
		{Lat: 0, Lng: 0}, {Lat: 0, Lng: 10}, {Lat: 10, Lng: 10}, {Lat: 10, Lng: 7},
		{Lat: 3, Lng: 7}, {Lat: 3, Lng: 3}, {Lat: 10, Lng: 3}, {Lat: 10, Lng: 0},
	}
	assert.True(t, IsInside(domain.Point{Lat: 5, Lng: 1}, u))
	assert.True(t, IsInside(domain.Point{Lat: 1, Lng: 5}, u))
	assert.False(t, IsInside(domain.Point{Lat: 5, Lng: 5}, u))
}

func TestIsInside_DegeneratePolygon(t *testing.T) {
	assert.False(t, IsInside(domain.Point{Lat: 0, Lng: 0}, square[:2]))
	assert.False(t, IsInside(domain.Point{Lat: 0, Lng: 0}, nil))
}

func TestIsInside_BoundaryIsDeterministic(t *testing.T) {
	edge := domain.Point{Lat: 0, Lng: 5}
	first := IsInside(edge, square)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, IsInside(edge, square))
	}
}

func TestEligibleCompanies_UnionAndOptIn(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	far := []domain.Point{{Lat: 100, Lng: 100}, {Lat: 100, Lng: 110}, {Lat: 110, Lng: 110}}
	fences := []domain.CompanyGeofence{
		{CompanyID: a, Polygon: far},
		{CompanyID: a, Polygon: square},
		{CompanyID: b, Polygon: far},
	}

	got := EligibleCompanies(domain.Point{Lat: 5, Lng: 5}, fences)
	require.Len(t, got, 1)
	assert.Contains(t, got, a)
	assert.NotContains(t, got, b)
	assert.NotContains(t, got, c)

	assert.Empty(t, EligibleCompanies(domain.Point{Lat: 5, Lng: 5}, nil))
	assert.True(t, Covers(a, domain.Point{Lat: 5, Lng: 5}, fences))
	assert.False(t, Covers(c, domain.Point{Lat: 5, Lng: 5}, fences))
}

func TestValidatePolygon(t *testing.T) {
	assert.ErrorIs(t, ValidatePolygon(square[:2]), domain.ErrInvalidPolygon)
	assert.NoError(t, ValidatePolygon(square))
}
