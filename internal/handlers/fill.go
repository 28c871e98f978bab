package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/tegaki-forms/api/internal/domain"
	"github.com/tegaki-forms/api/internal/fieldmap"
	"github.com/tegaki-forms/api/internal/platform/httpx"
	"github.com/tegaki-forms/api/internal/platform/observability"
	"github.com/tegaki-forms/api/internal/services"
)

const (
	defaultFillMaxBodyBytes = int64(1 << 20)
	defaultFillMaxFields    = 500
)

var fillTextPolicy = bluemonday.StrictPolicy()

// FillHandlers exposes the fill and dry-run endpoints.
type FillHandlers struct {
	fill         services.FillService
	logger       *zap.Logger
	maxBodyBytes int64
	maxFields    int
}

// FillOption customises construction of FillHandlers.
type FillOption func(*FillHandlers)

// WithFillService injects the fill service dependency.
func WithFillService(svc services.FillService) FillOption {
	return func(h *FillHandlers) {
		h.fill = svc
	}
}

// WithFillLogger sets the logger used for request diagnostics.
func WithFillLogger(logger *zap.Logger) FillOption {
	return func(h *FillHandlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithFillMaxBodyBytes caps the accepted request body size.
func WithFillMaxBodyBytes(limit int64) FillOption {
	return func(h *FillHandlers) {
		if limit > 0 {
			h.maxBodyBytes = limit
		}
	}
}

// WithFillMaxFields caps the number of entries accepted in the fields map.
func WithFillMaxFields(limit int) FillOption {
	return func(h *FillHandlers) {
		if limit > 0 {
			h.maxFields = limit
		}
	}
}

// NewFillHandlers constructs handlers for the fill endpoints.
func NewFillHandlers(opts ...FillOption) *FillHandlers {
	h := &FillHandlers{
		logger:       zap.NewNop(),
		maxBodyBytes: defaultFillMaxBodyBytes,
		maxFields:    defaultFillMaxFields,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the fill endpoints on the provided router.
func (h *FillHandlers) Routes(r chi.Router) {
	r.Post("/fill", h.Fill)
	r.Post("/fill:dryRun", h.DryRun)
}

type fillRequestBody struct {
	TemplateFileID string         `json:"templateFileId"`
	Fields         map[string]any `json:"fields"`
	OutputName     string         `json:"outputName"`
	FolderID       string         `json:"folderId"`
	Mode           string         `json:"mode"`
	WatermarkText  string         `json:"watermarkText"`
}

// Fill handles POST /fill.
func (h *FillHandlers) Fill(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	result, err := h.fill.Fill(r.Context(), req)
	if err != nil {
		h.logger.Warn("fill request failed",
			zap.String("template_file_id", observability.SanitizeFileID(req.TemplateFileID)),
			zap.Error(err),
		)
		writeFillError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"filledCount": result.FilledCount,
		"skipped":     result.Skipped,
		"driveFile": map[string]string{
			"id":   result.File.ID,
			"name": result.File.Name,
		},
		"webViewLink": result.File.WebViewLink,
	})
}

// DryRun handles POST /fill:dryRun and reports resolution outcomes without
// touching Drive.
func (h *FillHandlers) DryRun(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	result, err := h.fill.DryRun(r.Context(), req)
	if err != nil {
		writeFillError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"template": map[string]string{
			"fileId": result.Template.ID,
			"name":   result.Template.Name,
		},
		"fieldCount":  result.FieldCount,
		"resolutions": result.Resolutions,
		"skipped":     result.Skipped,
	})
}

func (h *FillHandlers) decodeRequest(w http.ResponseWriter, r *http.Request) (services.FillRequest, bool) {
	if h.fill == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("not_configured", "fill service unavailable", http.StatusServiceUnavailable))
		return services.FillRequest{}, false
	}

	var body fillRequestBody
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", fmt.Sprintf("decode request body: %v", err), http.StatusBadRequest))
		return services.FillRequest{}, false
	}

	if strings.TrimSpace(body.TemplateFileID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "templateFileId is required", http.StatusBadRequest))
		return services.FillRequest{}, false
	}
	if len(body.Fields) == 0 {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "fields must not be empty", http.StatusBadRequest))
		return services.FillRequest{}, false
	}
	if len(body.Fields) > h.maxFields {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", fmt.Sprintf("fields exceeds the limit of %d entries", h.maxFields), http.StatusBadRequest))
		return services.FillRequest{}, false
	}

	mode, ok := domain.ParseFillMode(strings.TrimSpace(body.Mode))
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", fmt.Sprintf("mode %q is not one of fill, lock, print", body.Mode), http.StatusBadRequest))
		return services.FillRequest{}, false
	}

	fields, err := fieldmap.NormalizeInput(body.Fields)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return services.FillRequest{}, false
	}

	return services.FillRequest{
		TemplateFileID: strings.TrimSpace(body.TemplateFileID),
		Fields:         fields,
		OutputName:     fillTextPolicy.Sanitize(strings.TrimSpace(body.OutputName)),
		FolderID:       strings.TrimSpace(body.FolderID),
		Mode:           mode,
		WatermarkText:  fillTextPolicy.Sanitize(strings.TrimSpace(body.WatermarkText)),
		RequestID:      middleware.GetReqID(r.Context()),
	}, true
}

// writeFillError translates service sentinels into the HTTP error envelope.
func writeFillError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrFillInvalidInput),
		errors.Is(err, services.ErrTemplateInvalidInput),
		errors.Is(err, services.ErrTemplateFolderRequired):
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrTemplateUnreadable):
		httpx.WriteError(r.Context(), w, httpx.NewError("template_unreadable", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrTemplateNotFound):
		httpx.WriteError(r.Context(), w, httpx.NewError("template_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrUpstreamUnavailable):
		httpx.WriteError(r.Context(), w, httpx.NewError("upstream_unavailable", err.Error(), http.StatusBadGateway))
	default:
		httpx.WriteError(r.Context(), w, httpx.NewError("internal_error", err.Error(), http.StatusInternalServerError))
	}
}
