package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/omerc321/washapp-sub002/internal/dispatch"
	"github.com/omerc321/washapp-sub002/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"Failed to encode response"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

var statusByError = []struct {
	err    error
	status int
}{
	{domain.ErrJobNotFound, http.StatusNotFound},
	{domain.ErrCleanerNotFound, http.StatusNotFound},
	{domain.ErrCompanyNotFound, http.StatusNotFound},
	{domain.ErrComplaintNotFound, http.StatusNotFound},
	{domain.ErrGeofenceNotFound, http.StatusNotFound},
	{domain.ErrFinancialNotFound, http.StatusNotFound},
	{domain.ErrNoOpenShift, http.StatusNotFound},

	{domain.ErrInvalidTransition, http.StatusConflict},
	{domain.ErrAlreadyAssigned, http.StatusConflict},
	{domain.ErrShiftAlreadyOpen, http.StatusConflict},
	{domain.ErrAlreadyRefunded, http.StatusConflict},
	{domain.ErrFinancialExists, http.StatusConflict},
	{domain.ErrDuplicateEntry, http.StatusConflict},
	{domain.ErrDuplicateReference, http.StatusConflict},
	{domain.ErrJobExpired, http.StatusConflict},

	{domain.ErrNotAssignedCleaner, http.StatusForbidden},

	{domain.ErrPaymentMismatch, http.StatusPaymentRequired},
	{domain.ErrGatewayDeclined, http.StatusPaymentRequired},

	{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity},
	{domain.ErrOutsideServiceArea, http.StatusUnprocessableEntity},
	{domain.ErrNotRefundable, http.StatusUnprocessableEntity},

	{domain.ErrGatewayUnavailable, http.StatusServiceUnavailable},

	{domain.ErrInvalidAmount, http.StatusBadRequest},
	{domain.ErrNameRequired, http.StatusBadRequest},
	{domain.ErrJobIDRequired, http.StatusBadRequest},
	{domain.ErrInvalidPolygon, http.StatusBadRequest},
	{domain.ErrInvalidPackage, http.StatusBadRequest},
	{domain.ErrProofRequired, http.StatusBadRequest},
	{domain.ErrResolutionRequired, http.StatusBadRequest},
	{domain.ErrInvalidRating, http.StatusBadRequest},
}

// respondError maps a domain error to its HTTP status. Unknown errors are
// logged and hidden behind a 500.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var rateLimited *dispatch.RateLimitError
	if errors.As(err, &rateLimited) {
		w.Header().Set("Retry-After", strconv.Itoa(rateLimited.RetryAfterSeconds))
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) {
		writeError(w, http.StatusBadRequest, invalid.Error())
		return
	}
	for _, candidate := range statusByError {
		if errors.Is(err, candidate.err) {
			writeError(w, candidate.status, candidate.err.Error())
			return
		}
	}

	h.logger.WithError(err).WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Error("request failed")
	writeError(w, http.StatusInternalServerError, "Internal server error")
}
