package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Knights-Who-Say-Node/reviews/internal/service"
	"github.com/Knights-Who-Say-Node/reviews/pkg/httputil"
	"github.com/Knights-Who-Say-Node/reviews/pkg/pagination"
	"github.com/Knights-Who-Say-Node/reviews/pkg/validator"
)

// ReviewHandler handles HTTP requests for review endpoints.
type ReviewHandler struct {
	service *service.ReviewService
	logger  *slog.Logger
}

// NewReviewHandler creates a new review HTTP handler.
func NewReviewHandler(svc *service.ReviewService, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// CreateReviewRequest is the JSON request body for submitting a review.
// Pointer fields distinguish a missing field from its zero value.
type CreateReviewRequest struct {
	ProductID       *int64        `json:"product_id" validate:"required,min=1"`
	Rating          *int          `json:"rating" validate:"required,min=1,max=5"`
	Summary         *string       `json:"summary" validate:"required,max=1000"`
	Body            *string       `json:"body" validate:"required,max=10000"`
	Recommend       *bool         `json:"recommend" validate:"required"`
	Name            *string       `json:"name" validate:"required,min=1,max=255"`
	Email           *string       `json:"email" validate:"required,email,max=255"`
	Photos          []string      `json:"photos" validate:"omitempty,max=10,dive,required,url"`
	Characteristics map[int64]int `json:"characteristics" validate:"omitempty,dive,keys,min=1,endkeys,min=1,max=5"`
}

// CreateReviewResponse is returned after a review is stored.
type CreateReviewResponse struct {
	ID      int64  `json:"id"`
	Message string `json:"message"`
}

// --- Handlers ---

// ListReviews handles GET /reviews?product_id=&page=&count=&sort=
func (h *ReviewHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID, ok := httputil.ParseID(w, r, "product_id", q.Get("product_id"))
	if !ok {
		return
	}

	page, err := httputil.QueryInt(r, "page", pagination.DefaultPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	count, err := httputil.QueryInt(r, "count", pagination.DefaultCount)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	// Explicit zero values are rejected here; the service treats zero as
	// "use the default".
	if err := (pagination.Params{Page: page, Count: count}).Validate(); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	payload, err := h.service.ListReviews(r.Context(), service.ListReviewsInput{
		ProductID: productID,
		Page:      page,
		Count:     count,
		Sort:      q.Get("sort"),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteRawJSON(w, http.StatusOK, payload)
}

// GetReviewMeta handles GET /reviews/meta?product_id=
func (h *ReviewHandler) GetReviewMeta(w http.ResponseWriter, r *http.Request) {
	productID, ok := httputil.ParseID(w, r, "product_id", r.URL.Query().Get("product_id"))
	if !ok {
		return
	}

	payload, err := h.service.GetReviewMeta(r.Context(), productID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteRawJSON(w, http.StatusOK, payload)
}

// CreateReview handles POST /reviews
func (h *ReviewHandler) CreateReview(w http.ResponseWriter, r *http.Request) {
	var req CreateReviewRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	id, err := h.service.CreateReview(r.Context(), service.CreateReviewInput{
		ProductID:       *req.ProductID,
		Rating:          *req.Rating,
		Summary:         *req.Summary,
		Body:            *req.Body,
		Recommend:       *req.Recommend,
		Name:            *req.Name,
		Email:           *req.Email,
		Photos:          req.Photos,
		Characteristics: req.Characteristics,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, CreateReviewResponse{ID: id, Message: "Review Created"})
}

// MarkHelpful handles PUT /reviews/{review_id}/helpful
func (h *ReviewHandler) MarkHelpful(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, r, "review_id", chi.URLParam(r, "review_id"))
	if !ok {
		return
	}

	if err := h.service.MarkHelpful(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ReportReview handles PUT /reviews/{review_id}/report
func (h *ReviewHandler) ReportReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, r, "review_id", chi.URLParam(r, "review_id"))
	if !ok {
		return
	}

	if err := h.service.ReportReview(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
