package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/etewiah/property-web-builder-sub002/domains/subdomains/be/service"
	platformlogging "github.com/etewiah/property-web-builder-sub002/platform/go/logging"
	"github.com/etewiah/property-web-builder-sub002/platform/go/problem"
)

const (
	problemTypeValidation = "https://propertywebbuilder.com/problems/validation-error"
	problemTypeInternal   = "https://propertywebbuilder.com/problems/internal-error"
)

// Handler exposes subdomain validation over HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("subdomains service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the subdomain routes on the API router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/subdomains/validate", h.validate)
}

type validateRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type validateResponse struct {
	Valid      bool     `json:"valid"`
	Errors     []string `json:"errors"`
	Normalized string   `json:"normalized"`
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, problem.Details{
			Type:   problemTypeValidation,
			Title:  "Invalid request body",
			Status: http.StatusBadRequest,
			Detail: "request body must be valid JSON",
		})
		return
	}

	v, err := h.svc.ValidateCustomName(r.Context(), req.Name, req.Email)
	if err != nil {
		h.loggerFrom(r.Context()).Error("subdomain validation failed", zap.Error(err))
		problem.Write(w, problem.Details{
			Type:   problemTypeInternal,
			Title:  "Internal server error",
			Status: http.StatusInternalServerError,
		})
		return
	}

	resp := validateResponse{Valid: v.Valid, Errors: v.Errors, Normalized: v.Normalized}
	if resp.Errors == nil {
		resp.Errors = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return h.logger
}
