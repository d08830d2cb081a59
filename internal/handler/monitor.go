package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rijexamenmeldingen/sbat-monitor/internal/model"
	"github.com/rijexamenmeldingen/sbat-monitor/internal/service/monitor"
)

type monitorService interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Reconfigure(cfg model.MonitorConfiguration) error
	Config() model.MonitorConfiguration
	Status() model.MonitorStatus
}

type MonitorHandler struct {
	monitor monitorService
}

func NewMonitorHandler(mon monitorService) *MonitorHandler {
	return &MonitorHandler{monitor: mon}
}

func (h *MonitorHandler) RegisterRoutes(r chi.Router) {
	r.Get("/monitor/status", h.Status)
	r.Post("/monitor/start", h.Start)
	r.Post("/monitor/config", h.UpdateConfig)
	r.Post("/monitor/stop", h.Stop)
}

func (h *MonitorHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Status())
}

// Start applies the configuration in the body, if any, and starts polling.
func (h *MonitorHandler) Start(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.decodeConfig(w, r, true)
	if !ok {
		return
	}
	if h.monitor.Status().Running {
		writeError(w, http.StatusConflict, "monitor is already running")
		return
	}
	if !h.reconfigure(w, cfg) {
		return
	}

	if err := h.monitor.Start(r.Context()); err != nil {
		if errors.Is(err, monitor.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "monitor is already running")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to start monitor")
		return
	}
	writeJSON(w, http.StatusOK, h.monitor.Status())
}

func (h *MonitorHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.decodeConfig(w, r, false)
	if !ok {
		return
	}
	if !h.reconfigure(w, cfg) {
		return
	}
	writeJSON(w, http.StatusOK, h.monitor.Status())
}

func (h *MonitorHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.monitor.Stop(r.Context()); err != nil {
		if errors.Is(err, monitor.ErrNotRunning) {
			writeError(w, http.StatusConflict, "monitor is not running")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to stop monitor")
		return
	}
	writeJSON(w, http.StatusOK, h.monitor.Status())
}

// decodeConfig reads a MonitorConfiguration body. Omitted fields keep their
// current values; an empty body is accepted only when optional is set.
func (h *MonitorHandler) decodeConfig(w http.ResponseWriter, r *http.Request, optional bool) (model.MonitorConfiguration, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB

	cfg := h.monitor.Config()
	err := json.NewDecoder(r.Body).Decode(&cfg)
	if errors.Is(err, io.EOF) && optional {
		return cfg, true
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return cfg, false
	}
	return cfg, true
}

func (h *MonitorHandler) reconfigure(w http.ResponseWriter, cfg model.MonitorConfiguration) bool {
	if err := h.monitor.Reconfigure(cfg); err != nil {
		if errors.Is(err, monitor.ErrInvalidConfig) {
			writeError(w, http.StatusBadRequest, err.Error())
			return false
		}
		writeError(w, http.StatusInternalServerError, "failed to update configuration")
		return false
	}
	return true
}
