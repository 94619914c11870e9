package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/omerc321/washapp-sub002/internal/domain"
)

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type withdrawalRequest struct {
	Amount int64 `json:"amount" validate:"gt=0"`
}

type geofenceRequest struct {
	ID      *uuid.UUID     `json:"id,omitempty"`
	Name    string         `json:"name" validate:"required,max=120"`
	Polygon []domain.Point `json:"polygon" validate:"min=3,dive"`
}

type offlineJobRequest struct {
	CustomerName string `json:"customer_name" validate:"required"`
	CarPlate     string `json:"car_plate" validate:"required"`
	ServicePrice int64  `json:"service_price" validate:"gt=0"`
}

type resolveRequest struct {
	Resolution string `json:"resolution" validate:"required,max=2000"`
}

type balanceResponse struct {
	CompanyID uuid.UUID `json:"company_id"`
	Balance   int64     `json:"balance"`
	Currency  string    `json:"currency"`
}

func (h *Handler) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	jobID, ok := uuidParam(w, r, "jobID")
	if !ok {
		return
	}
	var req cancelRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	job, err := h.svc.Dispatch.Cancel(r.Context(), jobID, p.CompanyID, req.Reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{Job: job})
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	balance, err := h.svc.Ledger.Balance(r.Context(), p.CompanyID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{CompanyID: p.CompanyID, Balance: balance, Currency: h.svc.Ledger.Currency()})
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	txs, err := h.svc.Ledger.History(r.Context(), p.CompanyID, intQuery(r, "limit", 50), intQuery(r, "offset", 0))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req withdrawalRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.svc.Ledger.RequestWithdrawal(r.Context(), p.CompanyID, req.Amount)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *Handler) handleListGeofences(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	fences, err := h.svc.Companies.Geofences(r.Context(), p.CompanyID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if fences == nil {
		fences = []domain.CompanyGeofence{}
	}
	writeJSON(w, http.StatusOK, fences)
}

func (h *Handler) handleSaveGeofence(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req geofenceRequest
	if !h.decode(w, r, &req) {
		return
	}
	fence, err := h.svc.Companies.SaveGeofence(r.Context(), p.CompanyID, req.ID, req.Name, req.Polygon)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	status := http.StatusCreated
	if req.ID != nil {
		status = http.StatusOK
	}
	writeJSON(w, status, fence)
}

func (h *Handler) handleDeleteGeofence(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	geofenceID, ok := uuidParam(w, r, "geofenceID")
	if !ok {
		return
	}
	if err := h.svc.Companies.DeleteGeofence(r.Context(), p.CompanyID, geofenceID); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRecordOfflineJob(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req offlineJobRequest
	if !h.decode(w, r, &req) {
		return
	}
	job, err := h.svc.Ledger.RecordOfflineJob(r.Context(), p.CompanyID, req.CustomerName, req.CarPlate, req.ServicePrice)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *Handler) handleSubscriptionQuote(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	quote, err := h.svc.Ledger.SubscriptionQuote(r.Context(), p.CompanyID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (h *Handler) handleListComplaints(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var status *domain.ComplaintStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := domain.ComplaintStatus(raw)
		status = &s
	}
	complaints, err := h.svc.Complaints.List(r.Context(), p.CompanyID, status)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if complaints == nil {
		complaints = []domain.Complaint{}
	}
	writeJSON(w, http.StatusOK, complaints)
}

func (h *Handler) handleStartComplaint(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	complaintID, ok := uuidParam(w, r, "complaintID")
	if !ok {
		return
	}
	c, err := h.svc.Complaints.Start(r.Context(), complaintID, p.CompanyID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleResolveComplaint(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	complaintID, ok := uuidParam(w, r, "complaintID")
	if !ok {
		return
	}
	var req resolveRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.svc.Complaints.Resolve(r.Context(), complaintID, p.CompanyID, req.Resolution)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleRefundComplaint(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	complaintID, ok := uuidParam(w, r, "complaintID")
	if !ok {
		return
	}
	c, err := h.svc.Complaints.ProcessRefund(r.Context(), complaintID, p.CompanyID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
