package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/govmatch-ai/govmatch/internal/batch"
	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

// BatchesHandler exposes batch coordination status, fleet health, and the
// schedule manager.
type BatchesHandler struct {
	coordinations *storage.CoordinationRepository
	progress      *storage.ProgressRepository
	monitor       *batch.Monitor
	schedules     *batch.ScheduleManager
	logger        *observability.Logger
}

// NewBatchesHandler creates a batches handler.
func NewBatchesHandler(coordinations *storage.CoordinationRepository, progress *storage.ProgressRepository, monitor *batch.Monitor, schedules *batch.ScheduleManager, logger *observability.Logger) *BatchesHandler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &BatchesHandler{
		coordinations: coordinations,
		progress:      progress,
		monitor:       monitor,
		schedules:     schedules,
		logger:        logger,
	}
}

// Status returns one coordination record with its per-batch rows.
// GET /batches/{coordination_id}
func (h *BatchesHandler) Status(w http.ResponseWriter, r *http.Request) {
	coordinationID := chi.URLParam(r, "coordination_id")
	rec, err := h.coordinations.GetByID(r.Context(), coordinationID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	rows, err := h.progress.ListByCoordination(r.Context(), coordinationID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, http.StatusOK, map[string]any{"coordination": rec, "batches": rows})
}

// Health runs a health scan over recent coordinations.
// GET /batches/health
func (h *BatchesHandler) Health(w http.ResponseWriter, r *http.Request) {
	report, err := h.monitor.Scan(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, http.StatusOK, report)
}

// ListSchedules returns all registered schedules.
// GET /schedules
func (h *BatchesHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	WriteData(w, http.StatusOK, map[string]any{"schedules": h.schedules.List()})
}

type createScheduleRequest struct {
	Name       string          `json:"name" validate:"required"`
	Expression string          `json:"expression" validate:"required"`
	Target     string          `json:"target" validate:"required"`
	Input      json.RawMessage `json:"input"`
}

// CreateSchedule registers a new cron schedule against a known target.
// POST /schedules
func (h *BatchesHandler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sched, err := h.schedules.Create(req.Name, req.Expression, req.Target, req.Input)
	if err != nil {
		if errors.Is(err, batch.ErrScheduleExists) {
			WriteError(w, http.StatusConflict, CodeScheduleExists, err.Error())
			return
		}
		WriteError(w, http.StatusBadRequest, CodeMissingField, err.Error())
		return
	}
	WriteData(w, http.StatusCreated, sched)
}

// DeleteSchedule removes a schedule.
// DELETE /schedules/{name}
func (h *BatchesHandler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.schedules.Delete(name); err != nil {
		if errors.Is(err, batch.ErrScheduleNotFound) {
			WriteError(w, http.StatusNotFound, CodeScheduleNotFound, err.Error())
			return
		}
		WriteServiceError(w, err)
		return
	}
	WriteData(w, http.StatusOK, map[string]any{"deleted": name})
}

// TriggerSchedule fires a schedule's target immediately.
// POST /schedules/{name}/trigger
func (h *BatchesHandler) TriggerSchedule(w http.ResponseWriter, r *http.Request) {
	var input json.RawMessage
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			WriteError(w, http.StatusBadRequest, CodeInvalidJSON, "request body is not valid JSON")
			return
		}
	}

	exec, err := h.schedules.Trigger(r.Context(), chi.URLParam(r, "name"), input)
	if err != nil {
		if errors.Is(err, batch.ErrScheduleNotFound) {
			WriteError(w, http.StatusNotFound, CodeScheduleNotFound, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Schedule trigger failed")
		WriteError(w, http.StatusInternalServerError, CodeProcessingFailed, err.Error())
		return
	}
	WriteData(w, http.StatusAccepted, exec)
}
