/**
 * @description
 * Handler bridges the HTTP layer and the engines. Handlers parse and validate
 * the request, call one engine operation and map the result or error to a
 * JSON response.
 *
 * @dependencies
 * - go-playground/validator: struct-tag validation of request bodies.
 * - go-chi/chi: URL parameters.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/omerc321/washapp-sub002/internal/company"
	"github.com/omerc321/washapp-sub002/internal/complaint"
	"github.com/omerc321/washapp-sub002/internal/dispatch"
	"github.com/omerc321/washapp-sub002/internal/ledger"
	"github.com/omerc321/washapp-sub002/internal/shift"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Services groups the engines the handlers call.
type Services struct {
	Companies  *company.Service
	Shifts     *shift.Tracker
	Ledger     *ledger.Engine
	Dispatch   *dispatch.Engine
	Complaints *complaint.Resolver
}

// Handler holds the engines and the request validator.
type Handler struct {
	svc      Services
	validate *validator.Validate
	logger   logrus.FieldLogger
}

// NewHandler creates the HTTP handlers.
func NewHandler(svc Services, logger logrus.FieldLogger) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.WithField("component", "api"),
	}
}

var errInvalidBody = errors.New("invalid request body")

// decode reads a JSON body into dst and validates it. It writes the 400
// response itself and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	return h.decodeBody(w, r, dst, false)
}

// decodeOptional is decode for endpoints whose body may be empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	return h.decodeBody(w, r, dst, true)
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if optional && errors.Is(err, io.EOF) {
		err = nil
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: %v", errInvalidBody, err))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.respondError(w, r, err)
		return false
	}
	return true
}

// uuidParam parses a chi URL parameter as a uuid, writing a 400 on failure.
func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

// intQuery reads a non-negative integer query parameter with a default.
func intQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// principal returns the authenticated caller. The auth middleware guarantees
// one is present on protected routes.
func principal(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	p, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get caller from context")
	}
	return p, ok
}
