package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tegaki-forms/api/internal/platform/httpx"
	"github.com/tegaki-forms/api/internal/platform/observability"
	"github.com/tegaki-forms/api/internal/platform/pagination"
	"github.com/tegaki-forms/api/internal/services"
)

const (
	defaultTemplatePageSize = 50
	maxTemplatePageSize     = 100
)

// TemplateHandlers exposes template discovery and field inspection endpoints.
type TemplateHandlers struct {
	templates services.TemplateService
	logger    *zap.Logger
}

// TemplateOption customises construction of TemplateHandlers.
type TemplateOption func(*TemplateHandlers)

// WithTemplateService injects the template service dependency.
func WithTemplateService(svc services.TemplateService) TemplateOption {
	return func(h *TemplateHandlers) {
		h.templates = svc
	}
}

// WithTemplateLogger sets the logger used for request diagnostics.
func WithTemplateLogger(logger *zap.Logger) TemplateOption {
	return func(h *TemplateHandlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewTemplateHandlers constructs handlers for the template endpoints.
func NewTemplateHandlers(opts ...TemplateOption) *TemplateHandlers {
	h := &TemplateHandlers{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the template endpoints on the provided router.
func (h *TemplateHandlers) Routes(r chi.Router) {
	r.Get("/templates", h.List)
	r.Get("/fields", h.Fields)
}

// List handles GET /templates?folderId=&pageSize=&pageToken=.
func (h *TemplateHandlers) List(w http.ResponseWriter, r *http.Request) {
	if h.templates == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("not_configured", "template service unavailable", http.StatusServiceUnavailable))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultTemplatePageSize,
		MaxPageSize:     maxTemplatePageSize,
	})
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.templates.List(r.Context(), r.URL.Query().Get("folderId"), params.PageSize, params.PageToken)
	if err != nil {
		writeFillError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"templates":     page.Templates,
		"nextPageToken": page.NextPageToken,
	})
}

// Fields handles GET /fields?fileId=.
func (h *TemplateHandlers) Fields(w http.ResponseWriter, r *http.Request) {
	if h.templates == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("not_configured", "template service unavailable", http.StatusServiceUnavailable))
		return
	}

	fileID := strings.TrimSpace(r.URL.Query().Get("fileId"))
	if fileID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "fileId query parameter is required", http.StatusBadRequest))
		return
	}

	fields, err := h.templates.Fields(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, services.ErrTemplateNotFound) {
			h.logger.Debug("fields lookup for unknown template", zap.String("file_id", observability.SanitizeFileID(fileID)))
		}
		writeFillError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"fileId": fileID,
		"fields": fields,
	})
}
