package domain

import "errors"

var (
	// ErrInvalidTransition is returned when a state machine edge does not exist
	// or the precondition for it no longer holds. State is never mutated.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrAlreadyAssigned is returned to the loser of a concurrent accept.
	ErrAlreadyAssigned     = errors.New("job already assigned")
	ErrPaymentMismatch     = errors.New("charged amount does not match expected total")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrGatewayDeclined     = errors.New("payment declined by gateway")
	// ErrDataInconsistency marks self-healed records; it is logged, not returned to callers.
	ErrDataInconsistency = errors.New("data inconsistency")

	ErrJobNotFound       = errors.New("job not found")
	ErrCleanerNotFound   = errors.New("cleaner not found")
	ErrCompanyNotFound   = errors.New("company not found")
	ErrComplaintNotFound = errors.New("complaint not found")
	ErrGeofenceNotFound  = errors.New("geofence not found")
	ErrFinancialNotFound = errors.New("job financial not found")

	ErrShiftAlreadyOpen   = errors.New("cleaner already has an open shift")
	ErrNoOpenShift        = errors.New("cleaner has no open shift")
	ErrAlreadyRefunded    = errors.New("job already refunded")
	ErrFinancialExists    = errors.New("job financial already recorded")
	ErrDuplicateEntry     = errors.New("ledger entry already posted for job")
	ErrDuplicateReference = errors.New("reference number already in use")
	ErrNotAssignedCleaner = errors.New("job is not assigned to this cleaner")
	ErrOutsideServiceArea = errors.New("location is outside the company's service area")
	ErrJobExpired         = errors.New("job acceptance window has passed")

	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrNameRequired       = errors.New("name is required")
	ErrJobIDRequired      = errors.New("job id is required")
	ErrInvalidPolygon     = errors.New("polygon needs at least 3 vertices")
	ErrInvalidPackage     = errors.New("unknown package type")
	ErrProofRequired      = errors.New("proof of completion is required")
	ErrResolutionRequired = errors.New("resolution text is required")
	ErrNotRefundable      = errors.New("complaint is not a refund request")
	ErrInvalidRating      = errors.New("rating must be between 1 and 5")
	ErrRateLimited        = errors.New("too many requests")
)
