package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/etewiah/property-web-builder-sub002/domains/sharding/be/service"
	platformlogging "github.com/etewiah/property-web-builder-sub002/platform/go/logging"
	"github.com/etewiah/property-web-builder-sub002/platform/go/persistence"
	"github.com/etewiah/property-web-builder-sub002/platform/go/problem"
)

const (
	problemTypeValidation = "https://propertywebbuilder.com/problems/validation-error"
	problemTypeNotFound   = "https://propertywebbuilder.com/problems/not-found"
	problemTypeConflict   = "https://propertywebbuilder.com/problems/conflict"
	problemTypeInternal   = "https://propertywebbuilder.com/problems/internal-error"
)

// defaultChangedBy labels audit rows when the caller does not identify itself.
const defaultChangedBy = "api"

type operation string

const (
	healthOperation     operation = "shardsHealth"
	distributeOperation operation = "shardsDistribution"
	assignOperation     operation = "shardsAssign"
	historyOperation    operation = "shardsHistory"
)

// Handler exposes shard reporting, assignment and migration over HTTP.
type Handler struct {
	svc      *service.Service
	health   *service.HealthChecker
	migrator *service.Migrator
	logger   *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, health *service.HealthChecker, migrator *service.Migrator, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("shard service is required")
	}
	if health == nil {
		panic("health checker is required")
	}
	if migrator == nil {
		panic("migrator is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, health: health, migrator: migrator, logger: logger}
}

// Register mounts the shard routes on the API router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/shards/health", h.healthReport)
	r.Get("/shards/distribution", h.distribution)
	r.Post("/websites/{id}/shard", h.assign)
	r.Get("/websites/{id}/shard/history", h.history)
}

func (h *Handler) healthReport(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.health.CheckAll(r.Context()))
}

func (h *Handler) distribution(w http.ResponseWriter, r *http.Request) {
	loads, err := h.svc.Distribution(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, err, distributeOperation)
		return
	}
	h.writeJSON(w, http.StatusOK, loads)
}

type assignRequest struct {
	Shard     string  `json:"shard"`
	Migrate   bool    `json:"migrate"`
	DryRun    bool    `json:"dry_run"`
	BatchSize int     `json:"batch_size"`
	ChangedBy string  `json:"changed_by"`
	Notes     *string `json:"notes"`
}

type assignResponse struct {
	Assignment *service.Assignment      `json:"assignment,omitempty"`
	Migration  *service.MigrationReport `json:"migration,omitempty"`
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.websiteID(w, r)
	if !ok {
		return
	}

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, problem.Details{
			Type:   problemTypeValidation,
			Title:  "Invalid request body",
			Status: http.StatusBadRequest,
			Detail: "request body must be valid JSON",
		})
		return
	}
	if req.Shard == "" {
		problem.Write(w, problem.Details{
			Type:   problemTypeValidation,
			Title:  "Validation failed",
			Status: http.StatusBadRequest,
			Errors: map[string][]string{"shard": {"is required"}},
		})
		return
	}
	if req.ChangedBy == "" {
		req.ChangedBy = defaultChangedBy
	}

	var resp assignResponse

	// The migrator moves the rows and rewrites the routing metadata itself;
	// a plain assignment moves metadata only.
	if req.Migrate || req.DryRun {
		report, err := h.migrator.Migrate(r.Context(), id, req.Shard, service.MigrateOptions{
			BatchSize: req.BatchSize,
			DryRun:    req.DryRun,
			ChangedBy: req.ChangedBy,
			Notes:     req.Notes,
		})
		if err != nil {
			h.writeError(r.Context(), w, err, assignOperation)
			return
		}
		resp.Migration = &report
	} else {
		assignment, err := h.svc.AssignShard(r.Context(), id, req.Shard, req.ChangedBy, req.Notes)
		if err != nil {
			h.writeError(r.Context(), w, err, assignOperation)
			return
		}
		resp.Assignment = &assignment
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := h.websiteID(w, r)
	if !ok {
		return
	}
	entries, err := h.svc.History(r.Context(), id)
	if err != nil {
		h.writeError(r.Context(), w, err, historyOperation)
		return
	}
	if entries == nil {
		entries = []service.AuditEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) websiteID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		problem.Write(w, problem.Details{
			Type:   problemTypeValidation,
			Title:  "Invalid website id",
			Status: http.StatusBadRequest,
			Detail: "website id must be a positive integer",
		})
		return 0, false
	}
	return id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error, op operation) {
	status, details := h.classifyError(err)

	logger := h.loggerFrom(ctx).With(
		zap.String("operation", string(op)), zap.Int("status", status))
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("shard operation failed", zap.Error(err))
	case status == http.StatusNotFound:
		logger.Info("shard resource not found", zap.Error(err))
	default:
		logger.Warn("shard request rejected", zap.Error(err))
	}

	problem.Write(w, details)
}

func (h *Handler) classifyError(err error) (int, problem.Details) {
	var notConfigured *persistence.ShardNotConfiguredError
	var migrationErr *service.MigrationError
	switch {
	case errors.As(err, &notConfigured):
		return http.StatusBadRequest, problem.Details{
			Type:   problemTypeValidation,
			Title:  "Unknown shard",
			Status: http.StatusBadRequest,
			Detail: err.Error(),
		}
	case errors.As(err, &migrationErr):
		return http.StatusConflict, problem.Details{
			Type:   problemTypeConflict,
			Title:  "Migration aborted",
			Status: http.StatusConflict,
			Detail: err.Error(),
		}
	case errors.Is(err, service.ErrSameShard), errors.Is(err, service.ErrShardUnhealthy):
		return http.StatusConflict, problem.Details{
			Type:   problemTypeConflict,
			Title:  "Conflict",
			Status: http.StatusConflict,
			Detail: err.Error(),
		}
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, problem.Details{
			Type:   problemTypeNotFound,
			Title:  "Resource not found",
			Status: http.StatusNotFound,
			Detail: err.Error(),
		}
	default:
		return http.StatusInternalServerError, problem.Details{
			Type:   problemTypeInternal,
			Title:  "Internal server error",
			Status: http.StatusInternalServerError,
			Detail: "an unexpected error occurred",
		}
	}
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return h.logger
}
