package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/orgforge/orgforge/internal/service"
)

type OrganizationHandler struct {
	svc    *service.ProvisionerService
	logger *zap.Logger
}

func NewOrganizationHandler(svc *service.ProvisionerService, logger *zap.Logger) *OrganizationHandler {
	return &OrganizationHandler{svc: svc, logger: logger}
}

type createOrganizationRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type updateOrganizationRequest struct {
	NewName  string `json:"new_name,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

func (h *OrganizationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "valid email is required")
		return
	}
	if len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}

	org, err := h.svc.Create(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.respondError(w, err, "failed to create organization")
		return
	}
	writeJSON(w, http.StatusCreated, org)
}

func (h *OrganizationHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := pathName(r)
	if name == "" {
		writeError(w, http.StatusBadRequest, "organization name is required")
		return
	}

	org, err := h.svc.Get(r.Context(), name)
	if err != nil {
		h.respondError(w, err, "failed to get organization")
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (h *OrganizationHandler) Update(w http.ResponseWriter, r *http.Request) {
	name := pathName(r)
	if name == "" {
		writeError(w, http.StatusBadRequest, "organization name is required")
		return
	}

	var req updateOrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.NewName == "" && req.Email == "" && req.Password == "" {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	if req.Password != "" && len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}

	org, err := h.svc.Rename(r.Context(), name, req.NewName, req.Email, req.Password)
	if err != nil {
		h.respondError(w, err, "failed to update organization")
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (h *OrganizationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := pathName(r)
	if name == "" {
		writeError(w, http.StatusBadRequest, "organization name is required")
		return
	}

	if err := h.svc.Delete(r.Context(), name); err != nil {
		h.respondError(w, err, "failed to delete organization")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "organization deleted"})
}

func (h *OrganizationHandler) respondError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrOrgNotFound):
		writeError(w, http.StatusNotFound, "organization not found")
	case errors.Is(err, service.ErrNameTaken):
		writeError(w, http.StatusConflict, "organization name already taken")
	case errors.Is(err, service.ErrEmailTaken):
		writeError(w, http.StatusConflict, "admin email already taken")
	case errors.Is(err, service.ErrInconsistentState):
		// Not retryable without inspection; make sure it reaches the logs.
		h.logger.Error("inconsistent state", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stores inconsistent, contact operator")
	default:
		h.logger.Error(fallback, zap.Error(err))
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

// pathName extracts the organization name path parameter. Display names may
// contain spaces, so the segment arrives percent-encoded.
func pathName(r *http.Request) string {
	raw := chi.URLParam(r, "name")
	name, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return name
}
