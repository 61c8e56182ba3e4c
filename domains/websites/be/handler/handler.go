package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	subdomainsvc "github.com/etewiah/property-web-builder-sub002/domains/subdomains/be/service"
	"github.com/etewiah/property-web-builder-sub002/domains/websites/be/service"
	platformlogging "github.com/etewiah/property-web-builder-sub002/platform/go/logging"
	"github.com/etewiah/property-web-builder-sub002/platform/go/problem"
)

const (
	problemTypeValidation = "https://propertywebbuilder.com/problems/validation-error"
	problemTypeNotFound   = "https://propertywebbuilder.com/problems/not-found"
	problemTypeConflict   = "https://propertywebbuilder.com/problems/conflict"
	problemTypeCapacity   = "https://propertywebbuilder.com/problems/capacity"
	problemTypeInternal   = "https://propertywebbuilder.com/problems/internal-error"
)

type operation string

const (
	signupOperation    operation = "websitesSignup"
	configureOperation operation = "websitesConfigure"
	provisionOperation operation = "websitesProvision"
	retryOperation     operation = "websitesRetry"
	verifyOperation    operation = "websitesVerify"
	getOperation       operation = "websitesGet"
)

// Handler exposes signup, provisioning and verification over HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("websites service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the website routes on the API router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/signups", h.startSignup)
	r.Post("/signups/site", h.configureSite)
	r.Get("/websites/{id}", h.get)
	r.Post("/websites/{id}/provision", h.provision)
	r.Post("/websites/{id}/retry", h.retry)
	r.Post("/verify/{token}", h.verifyEmail)
}

type signupRequest struct {
	Email string `json:"email"`
}

type signupResponse struct {
	UserID               string    `json:"user_id"`
	Email                string    `json:"email"`
	Subdomain            string    `json:"subdomain"`
	ReservationExpiresAt time.Time `json:"reservation_expires_at"`
}

func (h *Handler) startSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadBody(w)
		return
	}

	signup, err := h.svc.StartSignup(r.Context(), req.Email)
	if err != nil {
		h.writeError(r.Context(), w, err, signupOperation)
		return
	}

	h.writeJSON(w, http.StatusCreated, signupResponse{
		UserID:               signup.User.ID.String(),
		Email:                signup.User.Email,
		Subdomain:            signup.Subdomain,
		ReservationExpiresAt: signup.ReservationExpiresAt,
	})
}

type configureRequest struct {
	Email     string `json:"email"`
	Subdomain string `json:"subdomain"`
	SiteType  string `json:"site_type"`
	SeedPack  string `json:"seed_pack"`
}

func (h *Handler) configureSite(w http.ResponseWriter, r *http.Request) {
	var req configureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadBody(w)
		return
	}

	site, err := h.svc.ConfigureSite(r.Context(), req.Email, req.Subdomain, req.SiteType, req.SeedPack)
	if err != nil {
		h.writeError(r.Context(), w, err, configureOperation)
		return
	}

	h.writeJSON(w, http.StatusCreated, toAPIWebsite(site))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.websiteID(w, r)
	if !ok {
		return
	}
	site, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(r.Context(), w, err, getOperation)
		return
	}
	h.writeJSON(w, http.StatusOK, toAPIWebsite(site))
}

type provisionRequest struct {
	SkipProperties bool `json:"skip_properties"`
}

func (h *Handler) provision(w http.ResponseWriter, r *http.Request) {
	h.runProvision(w, r, provisionOperation, h.svc.Provision)
}

func (h *Handler) retry(w http.ResponseWriter, r *http.Request) {
	h.runProvision(w, r, retryOperation, h.svc.RetryProvisioning)
}

func (h *Handler) runProvision(w http.ResponseWriter, r *http.Request, op operation,
	run func(context.Context, int64, service.ProvisionOptions) (service.ProvisionResult, error)) {
	id, ok := h.websiteID(w, r)
	if !ok {
		return
	}

	var req provisionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeBadBody(w)
			return
		}
	}

	result, err := run(r.Context(), id, service.ProvisionOptions{SkipProperties: req.SkipProperties})
	if err != nil {
		h.writeError(r.Context(), w, err, op)
		return
	}
	h.writeJSON(w, http.StatusOK, toAPIProvisionResult(result))
}

func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	site, err := h.svc.VerifyEmail(r.Context(), token)
	if err != nil {
		h.writeError(r.Context(), w, err, verifyOperation)
		return
	}
	h.writeJSON(w, http.StatusOK, toAPIWebsite(site))
}

type apiWebsite struct {
	ID           int64   `json:"id"`
	Subdomain    string  `json:"subdomain"`
	ShardName    string  `json:"shard_name"`
	SiteType     string  `json:"site_type"`
	State        string  `json:"provisioning_state"`
	StateError   *string `json:"provisioning_error,omitempty"`
	SeedPackName string  `json:"seed_pack"`
	OwnerEmail   string  `json:"owner_email"`
}

func toAPIWebsite(site service.Website) apiWebsite {
	return apiWebsite{
		ID:           site.ID,
		Subdomain:    site.Subdomain,
		ShardName:    site.ShardName,
		SiteType:     site.SiteType,
		State:        string(site.State),
		StateError:   site.StateError,
		SeedPackName: site.SeedPackName,
		OwnerEmail:   site.OwnerEmail,
	}
}

type apiProvisionResult struct {
	WebsiteID    int64    `json:"website_id"`
	State        string   `json:"provisioning_state"`
	SeededSteps  []string `json:"seeded_steps"`
	SkippedSteps []string `json:"skipped_steps"`
}

func toAPIProvisionResult(result service.ProvisionResult) apiProvisionResult {
	out := apiProvisionResult{
		WebsiteID:    result.WebsiteID,
		State:        string(result.State),
		SeededSteps:  []string{},
		SkippedSteps: []string{},
	}
	for _, step := range result.SeededSteps {
		out.SeededSteps = append(out.SeededSteps, string(step))
	}
	for _, step := range result.SkippedSteps {
		out.SkippedSteps = append(out.SkippedSteps, string(step))
	}
	return out
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

func (h *Handler) writeBadBody(w http.ResponseWriter) {
	problem.Write(w, problem.Details{
		Type:   problemTypeValidation,
		Title:  "Invalid request body",
		Status: http.StatusBadRequest,
		Detail: "request body must be valid JSON",
	})
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error, op operation) {
	status, details := h.classifyError(err)

	logger := h.loggerFrom(ctx).With(
		zap.String("operation", string(op)), zap.Int("status", status))
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("websites operation failed", zap.Error(err))
	case status == http.StatusNotFound:
		logger.Info("websites resource not found", zap.Error(err))
	default:
		logger.Warn("websites request rejected", zap.Error(err))
	}

	problem.Write(w, details)
}

func (h *Handler) classifyError(err error) (int, problem.Details) {
	var validationErr *service.ValidationError
	var transitionErr *service.InvalidTransitionError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, problem.Details{
			Type:   problemTypeValidation,
			Title:  "Validation failed",
			Status: http.StatusBadRequest,
			Detail: "one or more fields are invalid",
			Errors: map[string][]string{validationErr.Field: validationErr.Errors},
		}
	case errors.As(err, &transitionErr):
		return http.StatusConflict, problem.Details{
			Type:   problemTypeConflict,
			Title:  "Invalid provisioning transition",
			Status: http.StatusConflict,
			Detail: transitionErr.Error(),
		}
	case errors.Is(err, service.ErrDuplicateSignup), errors.Is(err, service.ErrNotFailed):
		return http.StatusConflict, problem.Details{
			Type:   problemTypeConflict,
			Title:  "Conflict",
			Status: http.StatusConflict,
			Detail: err.Error(),
		}
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrInvalidToken):
		return http.StatusNotFound, problem.Details{
			Type:   problemTypeNotFound,
			Title:  "Resource not found",
			Status: http.StatusNotFound,
			Detail: err.Error(),
		}
	case errors.Is(err, subdomainsvc.ErrPoolEmpty), errors.Is(err, subdomainsvc.ErrPoolExhausted):
		return http.StatusServiceUnavailable, problem.Details{
			Type:   problemTypeCapacity,
			Title:  "Subdomain pool unavailable",
			Status: http.StatusServiceUnavailable,
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
