package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/omerc321/washapp-sub002/internal/dispatch"
	"github.com/omerc321/washapp-sub002/internal/domain"
)

type registerCompanyRequest struct {
	Name              string             `json:"name" validate:"required,max=200"`
	PackageType       domain.PackageType `json:"package_type" validate:"required,oneof=pay_per_wash custom offline subscription"`
	CustomPlatformFee int64              `json:"custom_platform_fee" validate:"gte=0"`
}

type addCleanerRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

// confirmPaymentRequest is the gateway confirmation for a booking charged
// outside of checkout.
type confirmPaymentRequest struct {
	BookingRequest
	ChargeID      string `json:"charge_id" validate:"required"`
	ChargedAmount int64  `json:"charged_amount" validate:"gt=0"`
}

type adminPaymentRequest struct {
	Amount      int64  `json:"amount" validate:"gt=0"`
	Description string `json:"description" validate:"max=500"`
}

func (h *Handler) handleRegisterCompany(w http.ResponseWriter, r *http.Request) {
	var req registerCompanyRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.svc.Companies.RegisterCompany(r.Context(), req.Name, req.PackageType, req.CustomPlatformFee)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleAddCleaner(w http.ResponseWriter, r *http.Request) {
	companyID, ok := uuidParam(w, r, "companyID")
	if !ok {
		return
	}
	var req addCleanerRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.svc.Companies.AddCleaner(r.Context(), companyID, req.Name)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.JobID == nil || *req.JobID == uuid.Nil {
		h.respondError(w, r, domain.ErrJobIDRequired)
		return
	}
	job, fin, err := h.svc.Dispatch.CapturePayment(r.Context(), dispatch.CaptureRequest{
		Booking:       req.booking(),
		ChargeID:      req.ChargeID,
		ChargedAmount: req.ChargedAmount,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, jobResponse{Job: job, Financial: fin})
}

func (h *Handler) handleAdminPayment(w http.ResponseWriter, r *http.Request) {
	companyID, ok := uuidParam(w, r, "companyID")
	if !ok {
		return
	}
	var req adminPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.svc.Ledger.PostAdminPayment(r.Context(), companyID, req.Amount, req.Description)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}
