package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rijexamenmeldingen/sbat-monitor/internal/model"
)

type slotLister interface {
	List(ctx context.Context, limit int) ([]model.ExamTimeSlot, error)
}

type requestLister interface {
	List(ctx context.Context, limit int) ([]model.SbatRequest, error)
}

// HistoryHandler exposes the recorded slots and the upstream audit log.
type HistoryHandler struct {
	slots    slotLister
	requests requestLister
}

func NewHistoryHandler(slots slotLister, requests requestLister) *HistoryHandler {
	return &HistoryHandler{slots: slots, requests: requests}
}

func (h *HistoryHandler) RegisterRoutes(r chi.Router) {
	r.Get("/slots", h.Slots)
	r.Get("/requests", h.Requests)
}

func (h *HistoryHandler) Slots(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r)
	slots, err := h.slots.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list slots")
		return
	}
	if slots == nil {
		slots = []model.ExamTimeSlot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots, "limit": limit})
}

func (h *HistoryHandler) Requests(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r)
	reqs, err := h.requests.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list requests")
		return
	}
	if reqs == nil {
		reqs = []model.SbatRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": reqs, "limit": limit})
}
