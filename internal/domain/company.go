package domain

import (
	"time"

	"github.com/google/uuid"
)

// PackageType is the fee-calculation strategy a company is enrolled under.
type PackageType string

const (
	PackagePayPerWash   PackageType = "pay_per_wash"
	PackageCustom       PackageType = "custom"
	PackageOffline      PackageType = "offline"
	PackageSubscription PackageType = "subscription"
)

// Valid reports whether p is one of the known package types.
func (p PackageType) Valid() bool {
	switch p {
	case PackagePayPerWash, PackageCustom, PackageOffline, PackageSubscription:
		return true
	}
	return false
}

// Company is a car-wash company registered on the marketplace.
type Company struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	PackageType PackageType `json:"package_type"`
	// CustomPlatformFee is the admin-set flat fee for the custom package, in fils.
	CustomPlatformFee int64     `json:"custom_platform_fee,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// CompanyGeofence is a named polygon defining part of a company's service area.
// Vertices are in insertion order; the ring is closed implicitly.
type CompanyGeofence struct {
	ID        uuid.UUID `json:"id"`
	CompanyID uuid.UUID `json:"company_id"`
	Name      string    `json:"name"`
	Polygon   []Point   `json:"polygon"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
