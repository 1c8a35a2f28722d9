package http

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "keyforge/internal/errors"
	"keyforge/internal/infrastructure"
	"keyforge/internal/services"
	"keyforge/pkg/contracts/domain"
)

// defaultKeyDays is the validity period applied when a create request omits
// the days field.
const defaultKeyDays = 30

// validate is the shared request validator.
var validate = validator.New()

// KeyHandler handles license key HTTP requests
type KeyHandler struct {
	service services.KeyService
	logger  *slog.Logger
}

// NewKeyHandler creates a new key handler
func NewKeyHandler(service services.KeyService, logger *slog.Logger) *KeyHandler {
	return &KeyHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "keys")),
	}
}

// Routes returns a chi router for key endpoints
func (h *KeyHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/stats", h.Stats)
	r.Post("/validate", h.Validate)
	r.Post("/delete", h.DeleteBatch)
	r.Delete("/{keyValue}", h.Delete)

	return r
}

// CreateKeyRequest is the POST /keys payload. Days distinguishes omitted
// (defaulted to 30) from an explicit zero, which the service rejects.
type CreateKeyRequest struct {
	Days      *int   `json:"days"`
	CreatedBy string `json:"created_by" validate:"omitempty,max=50"`
}

// Bind implements the render.Binder interface
func (req *CreateKeyRequest) Bind(r *http.Request) error {
	return validate.Struct(req)
}

// ValidateKeyRequest is the POST /keys/validate payload. Key carries no
// length cap: an over-long value is just an unknown key and falls through
// to the not-found outcome.
type ValidateKeyRequest struct {
	Key  string `json:"key" validate:"required"`
	HWID string `json:"hwid" validate:"required,max=100"`
}

// Bind implements the render.Binder interface
func (req *ValidateKeyRequest) Bind(r *http.Request) error {
	return validate.Struct(req)
}

// DeleteKeysRequest is the POST /keys/delete payload.
type DeleteKeysRequest struct {
	Keys []string `json:"keys" validate:"required,min=1"`
}

// Bind implements the render.Binder interface
func (req *DeleteKeysRequest) Bind(r *http.Request) error {
	return validate.Struct(req)
}

// KeyListResponse is the GET /keys response body.
type KeyListResponse struct {
	Success bool         `json:"success"`
	Keys    []domain.Key `json:"keys"`
	Total   int          `json:"total"`
}

// CreateKeyResponse is the POST /keys response body.
type CreateKeyResponse struct {
	Success bool        `json:"success"`
	Key     *domain.Key `json:"key"`
	Message string      `json:"message"`
}

// ValidateKeyResponse is the POST /keys/validate response body. KeyInfo is
// present only on successful validations.
type ValidateKeyResponse struct {
	Success bool        `json:"success"`
	Valid   bool        `json:"valid"`
	Message string      `json:"message"`
	KeyInfo *domain.Key `json:"key_info,omitempty"`
}

// DeleteKeysResponse is the POST /keys/delete response body.
type DeleteKeysResponse struct {
	Success        bool     `json:"success"`
	DeletedCount   int      `json:"deleted_count"`
	TotalRequested int      `json:"total_requested"`
	NotFound       []string `json:"not_found"`
	Message        string   `json:"message"`
}

// DeleteKeyResponse is the DELETE /keys/{keyValue} response body.
type DeleteKeyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StatsResponse is the GET /keys/stats response body.
type StatsResponse struct {
	Success bool             `json:"success"`
	Stats   *domain.KeyStats `json:"stats"`
}

// List handles GET /keys
func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.service.ListKeys(r.Context())
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	render.JSON(w, r, &KeyListResponse{
		Success: true,
		Keys:    keys,
		Total:   len(keys),
	})
}

// Create handles POST /keys
func (h *KeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	req := &CreateKeyRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderBindError(w, r, err)
		return
	}

	days := defaultKeyDays
	if req.Days != nil {
		days = *req.Days
	}

	key, err := h.service.CreateKey(r.Context(), days, req.CreatedBy)
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	render.JSON(w, r, &CreateKeyResponse{
		Success: true,
		Key:     key,
		Message: fmt.Sprintf("key %s created successfully", key.KeyValue),
	})
}

// Validate handles POST /keys/validate
func (h *KeyHandler) Validate(w http.ResponseWriter, r *http.Request) {
	req := &ValidateKeyRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderBindError(w, r, err)
		return
	}

	outcome, err := h.service.ValidateKey(r.Context(), req.Key, req.HWID)
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	render.JSON(w, r, &ValidateKeyResponse{
		Success: true,
		Valid:   outcome.Valid,
		Message: outcome.Reason.Message(),
		KeyInfo: outcome.Key,
	})
}

// DeleteBatch handles POST /keys/delete
func (h *KeyHandler) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	req := &DeleteKeysRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderBindError(w, r, err)
		return
	}

	result, err := h.service.DeleteKeys(r.Context(), req.Keys)
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	render.JSON(w, r, &DeleteKeysResponse{
		Success:        true,
		DeletedCount:   result.DeletedCount,
		TotalRequested: result.TotalRequested,
		NotFound:       result.NotFound,
		Message:        fmt.Sprintf("%d keys deleted successfully", result.DeletedCount),
	})
}

// Delete handles DELETE /keys/{keyValue}
func (h *KeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	keyValue := chi.URLParam(r, "keyValue")

	if err := h.service.DeleteKey(r.Context(), keyValue); err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	render.JSON(w, r, &DeleteKeyResponse{
		Success: true,
		Message: fmt.Sprintf("key %s deleted successfully", keyValue),
	})
}

// Stats handles GET /keys/stats
func (h *KeyHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	render.JSON(w, r, &StatsResponse{
		Success: true,
		Stats:   stats,
	})
}

// renderServiceError translates a service error into the uniform error
// response.
func (h *KeyHandler) renderServiceError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apierrors.FromService(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "key operation failed",
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
		)
	}
	render.Render(w, r, apierrors.NewErrorResponse(apiErr, infrastructure.GetTraceID(r.Context())))
}

// renderBindError reports malformed or invalid request payloads.
func (h *KeyHandler) renderBindError(w http.ResponseWriter, r *http.Request, err error) {
	render.Render(w, r, apierrors.NewErrorResponse(
		apierrors.NewValidationError(err.Error()),
		infrastructure.GetTraceID(r.Context())))
}
