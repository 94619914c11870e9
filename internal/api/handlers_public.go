package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/omerc321/washapp-sub002/internal/dispatch"
	"github.com/omerc321/washapp-sub002/internal/domain"
)

// QuoteRequest prices a booking for one company.
type QuoteRequest struct {
	CompanyID  uuid.UUID    `json:"company_id" validate:"required"`
	Location   domain.Point `json:"location"`
	BaseAmount int64        `json:"base_amount" validate:"gt=0"`
	TipAmount  int64        `json:"tip_amount" validate:"gte=0"`
}

// BookingRequest is the customer-supplied part of a job.
type BookingRequest struct {
	QuoteRequest
	JobID    *uuid.UUID      `json:"job_id,omitempty"`
	Customer domain.Customer `json:"customer"`
	Car      domain.Car      `json:"car"`
	Address  string          `json:"address"`
}

// CheckoutRequest charges the customer and creates the job.
type CheckoutRequest struct {
	BookingRequest
	PaymentMethodToken string `json:"payment_method_token" validate:"required"`
}

func (c BookingRequest) booking() dispatch.Booking {
	b := dispatch.Booking{
		CompanyID:  c.CompanyID,
		Customer:   c.Customer,
		Car:        c.Car,
		Location:   c.Location,
		Address:    c.Address,
		BaseAmount: c.BaseAmount,
		TipAmount:  c.TipAmount,
	}
	if c.JobID != nil {
		b.JobID = *c.JobID
	}
	return b
}

type jobResponse struct {
	Job       *domain.Job          `json:"job"`
	Financial *domain.JobFinancial `json:"financial,omitempty"`
}

type complaintRequest struct {
	JobID       uuid.UUID            `json:"job_id" validate:"required"`
	Type        domain.ComplaintType `json:"type" validate:"required,oneof=refund_request general"`
	Customer    domain.Customer      `json:"customer"`
	Description string               `json:"description" validate:"required,max=2000"`
}

type ratingRequest struct {
	Rating int    `json:"rating" validate:"gte=1,lte=5"`
	Review string `json:"review" validate:"max=2000"`
}

func (h *Handler) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	quote, err := h.svc.Dispatch.Quote(r.Context(), req.CompanyID, req.Location, req.BaseAmount, req.TipAmount)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	job, fin, err := h.svc.Dispatch.Checkout(r.Context(), req.booking(), req.PaymentMethodToken)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, jobResponse{Job: job, Financial: fin})
}

func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := uuidParam(w, r, "jobID")
	if !ok {
		return
	}
	job, err := h.svc.Dispatch.Job(r.Context(), jobID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{Job: job})
}

func (h *Handler) handleRateJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := uuidParam(w, r, "jobID")
	if !ok {
		return
	}
	var req ratingRequest
	if !h.decode(w, r, &req) {
		return
	}
	job, err := h.svc.Dispatch.Rate(r.Context(), jobID, req.Rating, req.Review)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{Job: job})
}

func (h *Handler) handleCreateComplaint(w http.ResponseWriter, r *http.Request) {
	var req complaintRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.svc.Complaints.Create(r.Context(), req.JobID, req.Type, req.Customer, req.Description)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// handleCompaniesServing lists the companies whose service area contains ?lat=&lng=.
func (h *Handler) handleCompaniesServing(w http.ResponseWriter, r *http.Request) {
	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, lngErr := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if latErr != nil || lngErr != nil {
		writeError(w, http.StatusBadRequest, "lat and lng query parameters are required")
		return
	}
	p := domain.Point{Lat: lat, Lng: lng}
	if err := h.validate.Struct(p); err != nil {
		h.respondError(w, r, err)
		return
	}
	ids, err := h.svc.Companies.CompaniesServing(r.Context(), p)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]uuid.UUID{"company_ids": ids})
}
