// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/tomtom215/marketsync/internal/database"
	"github.com/tomtom215/marketsync/internal/logging"
	"github.com/tomtom215/marketsync/internal/models"
	syncengine "github.com/tomtom215/marketsync/internal/sync"
)

var validate = validator.New()

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	db      *database.DB
	manager *syncengine.Manager
	reaper  *syncengine.Reaper
}

// NewHandlers wires the handler set.
func NewHandlers(db *database.DB, manager *syncengine.Manager, reaper *syncengine.Reaper) *Handlers {
	return &Handlers{db: db, manager: manager, reaper: reaper}
}

// TriggerSyncRequest is the body of POST /api/v1/sync.
type TriggerSyncRequest struct {
	SyncType         string `json:"sync_type" validate:"required,oneof=products offers orders"`
	AccountScope     string `json:"account_scope" validate:"omitempty,oneof=primary secondary both"`
	ConflictStrategy string `json:"conflict_strategy" validate:"omitempty,oneof=remote_priority local_priority newest_wins"`

	// Mode selects whether the call blocks until the run is terminal
	// ("sync") or returns as soon as the run is claimed ("async", default).
	Mode string `json:"mode" validate:"omitempty,oneof=sync async"`

	// ItemsPerPage overrides the configured page size for this run.
	ItemsPerPage int `json:"items_per_page" validate:"omitempty,min=1,max=1000"`

	// MaxPages caps how many pages each account fetches; zero means until
	// end of data.
	MaxPages int `json:"max_pages" validate:"omitempty,min=1"`
}

// TriggerSyncResponse is returned by POST /api/v1/sync.
type TriggerSyncResponse struct {
	SyncLog *models.SyncLog `json:"sync_log"`
	Message string          `json:"message,omitempty"`
}

// TriggerSync handles POST /api/v1/sync.
//
// Async mode claims the exclusivity slot synchronously (so conflicts still
// surface as 409) and responds 202 with the running sync log; the run
// continues in the background. Sync mode responds 200 with the finalized log.
func (h *Handlers) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req TriggerSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	trigger := syncengine.TriggerRequest{
		SyncType:     models.SyncType(req.SyncType),
		Scope:        models.AccountScope(req.AccountScope),
		Strategy:     models.ConflictStrategy(req.ConflictStrategy),
		TriggeredBy:  "api",
		ItemsPerPage: req.ItemsPerPage,
		MaxPages:     req.MaxPages,
	}

	if req.Mode == "sync" {
		log, err := h.manager.RunSync(r.Context(), trigger)
		if err != nil {
			writeTriggerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, TriggerSyncResponse{SyncLog: log})
		return
	}

	log, prepared, err := h.manager.Prepare(r.Context(), trigger)
	if err != nil {
		writeTriggerError(w, err)
		return
	}

	go func() {
		if _, err := h.manager.Execute(context.Background(), log, prepared); err != nil {
			logging.Error().Err(err).Str("sync_log_id", log.ID).Msg("Background sync run failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, TriggerSyncResponse{
		SyncLog: log,
		Message: "sync started",
	})
}

// writeTriggerError maps trigger failures to status codes: a taken slot is a
// conflict, everything else from validation is a bad request.
func writeTriggerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrSyncAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, syncengine.ErrAccountNotConfigured):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// RunStatus pairs a running sync log with its live progress snapshot.
type RunStatus struct {
	SyncLog  *models.SyncLog      `json:"sync_log"`
	Progress *models.SyncProgress `json:"progress,omitempty"`
}

// SyncStatusResponse is returned by GET /api/v1/sync/status.
type SyncStatusResponse struct {
	Active bool        `json:"active"`
	Runs   []RunStatus `json:"runs"`
}

// SyncStatus handles GET /api/v1/sync/status.
func (h *Handlers) SyncStatus(w http.ResponseWriter, r *http.Request) {
	running, err := h.db.ListRunningSyncLogs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query running syncs")
		return
	}

	resp := SyncStatusResponse{Runs: make([]RunStatus, 0, len(running))}
	for _, log := range running {
		status := RunStatus{SyncLog: log}
		if progress, err := h.db.GetSyncProgress(r.Context(), log.ID); err == nil {
			status.Progress = progress
		}
		resp.Runs = append(resp.Runs, status)
	}
	resp.Active = len(resp.Runs) > 0

	writeJSON(w, http.StatusOK, resp)
}

// ListSyncLogsResponse is returned by GET /api/v1/sync/logs.
type ListSyncLogsResponse struct {
	Logs []*models.SyncLog `json:"logs"`
}

// ListSyncLogs handles GET /api/v1/sync/logs?limit=N.
func (h *Handlers) ListSyncLogs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return
		}
		limit = parsed
	}

	logs, err := h.db.ListSyncLogs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query sync logs")
		return
	}
	if logs == nil {
		logs = []*models.SyncLog{}
	}
	writeJSON(w, http.StatusOK, ListSyncLogsResponse{Logs: logs})
}

// LatestSyncLog handles GET /api/v1/sync/logs/latest?sync_type=X&account=Y:
// the most recent run whose scope covers the account, regardless of outcome.
func (h *Handlers) LatestSyncLog(w http.ResponseWriter, r *http.Request) {
	syncType := models.SyncType(r.URL.Query().Get("sync_type"))
	if !syncType.Valid() {
		writeError(w, http.StatusBadRequest, "sync_type must be products, offers, or orders")
		return
	}

	account := models.AccountType(r.URL.Query().Get("account"))
	if account == "" {
		account = models.AccountPrimary
	}
	if account != models.AccountPrimary && account != models.AccountSecondary {
		writeError(w, http.StatusBadRequest, "account must be primary or secondary")
		return
	}

	log, err := h.db.GetLatestSyncLog(r.Context(), syncType, account)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no sync log for that type and account")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to query sync log")
		return
	}
	writeJSON(w, http.StatusOK, RunStatus{SyncLog: log})
}

// GetSyncLog handles GET /api/v1/sync/logs/{id}.
func (h *Handlers) GetSyncLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	log, err := h.db.GetSyncLog(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "sync log not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to query sync log")
		return
	}

	status := RunStatus{SyncLog: log}
	if log.Status == models.SyncStatusRunning {
		if progress, err := h.db.GetSyncProgress(r.Context(), log.ID); err == nil {
			status.Progress = progress
		}
	}
	writeJSON(w, http.StatusOK, status)
}

// CleanupResponse is returned by POST /api/v1/sync/cleanup.
type CleanupResponse struct {
	Reaped int `json:"reaped"`
}

// Cleanup handles POST /api/v1/sync/cleanup?timeout_minutes=N: an on-demand
// stuck-sync sweep. Without the parameter the configured stuck timeout
// applies; with it, any running log older than the given age is reaped.
func (h *Handlers) Cleanup(w http.ResponseWriter, r *http.Request) {
	var reaped int
	var err error
	if raw := r.URL.Query().Get("timeout_minutes"); raw != "" {
		minutes, parseErr := strconv.Atoi(raw)
		if parseErr != nil || minutes < 1 {
			writeError(w, http.StatusBadRequest, "timeout_minutes must be a positive integer")
			return
		}
		reaped, err = h.reaper.SweepWithTimeout(r.Context(), time.Duration(minutes)*time.Minute)
	} else {
		reaped, err = h.reaper.Sweep(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cleanup sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, CleanupResponse{Reaped: reaped})
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
