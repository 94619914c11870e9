// Package geo answers which companies serve a location. Containment uses the
// even-odd ray casting rule over each polygon, with the vertex list treated
// as an implicitly closed ring.
package geo

import (
	"github.com/google/uuid"

	"github.com/omerc321/washapp-sub002/internal/domain"
)

// IsInside reports whether p lies inside polygon. Lng is the x axis and Lat the
// y axis. Points exactly on an edge get a deterministic but unspecified answer.
func IsInside(p domain.Point, polygon []domain.Point) bool {
	n := len(polygon)
	if n < 3 {
		return false
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := polygon[i], polygon[j]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			crossLng := (b.Lng-a.Lng)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lng
			if p.Lng < crossLng {
				inside = !inside
			}
		}
	}
	return inside
}

// EligibleCompanies returns the companies with at least one geofence containing p.
// Companies without geofences never appear.
func EligibleCompanies(p domain.Point, geofences []domain.CompanyGeofence) map[uuid.UUID]struct{} {
	eligible := make(map[uuid.UUID]struct{})
	for _, g := range geofences {
		if _, ok := eligible[g.CompanyID]; ok {
			continue
		}
		if IsInside(p, g.Polygon) {
			eligible[g.CompanyID] = struct{}{}
		}
	}
	return eligible
}

// Covers reports whether any of the company's geofences contains p.
func Covers(companyID uuid.UUID, p domain.Point, geofences []domain.CompanyGeofence) bool {
	for _, g := range geofences {
		if g.CompanyID == companyID && IsInside(p, g.Polygon) {
			return true
		}
	}
	return false
}

// ValidatePolygon checks the minimum vertex count. Ring simplicity is assumed.
func ValidatePolygon(polygon []domain.Point) error {
	if len(polygon) < 3 {
		return domain.ErrInvalidPolygon
	}
	return nil
}
