package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tegaki-forms/api/internal/platform/httpx"
	"github.com/tegaki-forms/api/internal/platform/idempotency"
)

const defaultCleanupBatchSize = 250

// InternalHandlers exposes OIDC-guarded maintenance endpoints.
type InternalHandlers struct {
	store     idempotency.Store
	logger    *zap.Logger
	clock     func() time.Time
	batchSize int
}

// InternalOption customises construction of InternalHandlers.
type InternalOption func(*InternalHandlers)

// WithInternalIdempotencyStore injects the idempotency store to clean up.
func WithInternalIdempotencyStore(store idempotency.Store) InternalOption {
	return func(h *InternalHandlers) {
		h.store = store
	}
}

// WithInternalLogger sets the logger used for maintenance diagnostics.
func WithInternalLogger(logger *zap.Logger) InternalOption {
	return func(h *InternalHandlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithInternalClock overrides the time source (primarily for tests).
func WithInternalClock(clock func() time.Time) InternalOption {
	return func(h *InternalHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithInternalCleanupBatchSize caps records removed per cleanup invocation.
func WithInternalCleanupBatchSize(size int) InternalOption {
	return func(h *InternalHandlers) {
		if size > 0 {
			h.batchSize = size
		}
	}
}

// NewInternalHandlers constructs the maintenance endpoint handlers.
func NewInternalHandlers(opts ...InternalOption) *InternalHandlers {
	h := &InternalHandlers{
		logger:    zap.NewNop(),
		clock:     time.Now,
		batchSize: defaultCleanupBatchSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the internal endpoints on the provided router.
func (h *InternalHandlers) Routes(r chi.Router) {
	r.Post("/idempotency:cleanup", h.CleanupIdempotency)
}

// CleanupIdempotency handles POST /internal/idempotency:cleanup.
func (h *InternalHandlers) CleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("not_configured", "idempotency store unavailable", http.StatusServiceUnavailable))
		return
	}

	limit := h.batchSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	removed, err := h.store.CleanupExpired(r.Context(), h.clock().UTC(), limit)
	if err != nil {
		h.logger.Error("idempotency cleanup failed", zap.Error(err))
		httpx.WriteError(r.Context(), w, httpx.NewError("cleanup_failed", err.Error(), http.StatusInternalServerError))
		return
	}

	h.logger.Info("idempotency cleanup completed", zap.Int("removed", removed))
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"removed": removed,
	})
}
