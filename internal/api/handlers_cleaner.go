package api

import (
	"net/http"

	"github.com/omerc321/washapp-sub002/internal/domain"
)

type dutyRequest struct {
	Location *domain.Point `json:"location,omitempty"`
}

type heartbeatRequest struct {
	Location domain.Point `json:"location"`
}

type completeRequest struct {
	Proof string `json:"proof" validate:"required"`
}

func (h *Handler) handleGoOnDuty(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req dutyRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	s, err := h.svc.Shifts.GoOnDuty(r.Context(), p.SubjectID, req.Location)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *Handler) handleGoOffDuty(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req dutyRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	s, err := h.svc.Shifts.GoOffDuty(r.Context(), p.SubjectID, req.Location)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if s == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req heartbeatRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.Shifts.Heartbeat(r.Context(), p.SubjectID, req.Location); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListShifts(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	shifts, err := h.svc.Shifts.History(r.Context(), p.SubjectID, intQuery(r, "limit", 20))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shifts)
}

func (h *Handler) handleAvailableJobs(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	jobs, err := h.svc.Dispatch.AvailableJobs(r.Context(), p.SubjectID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) handleAcceptJob(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	jobID, ok := uuidParam(w, r, "jobID")
	if !ok {
		return
	}
	job, err := h.svc.Dispatch.Accept(r.Context(), jobID, p.SubjectID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{Job: job})
}

func (h *Handler) handleStartJob(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	jobID, ok := uuidParam(w, r, "jobID")
	if !ok {
		return
	}
	job, err := h.svc.Dispatch.Start(r.Context(), jobID, p.SubjectID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{Job: job})
}

func (h *Handler) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	jobID, ok := uuidParam(w, r, "jobID")
	if !ok {
		return
	}
	var req completeRequest
	if !h.decode(w, r, &req) {
		return
	}
	job, err := h.svc.Dispatch.Complete(r.Context(), jobID, p.SubjectID, req.Proof)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{Job: job})
}
