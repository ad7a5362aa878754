package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Knights-Who-Say-Node/reviews/internal/cache"
	"github.com/Knights-Who-Say-Node/reviews/internal/domain"
	"github.com/Knights-Who-Say-Node/reviews/internal/event"
	"github.com/Knights-Who-Say-Node/reviews/internal/repository"
	apperrors "github.com/Knights-Who-Say-Node/reviews/pkg/errors"
	"github.com/Knights-Who-Say-Node/reviews/pkg/pagination"
)

// ReviewCache is the response cache the service reads through.
type ReviewCache interface {
	Get(ctx context.Context, key cache.Key) ([]byte, cache.Stamp, bool)
	Set(ctx context.Context, key cache.Key, stamp cache.Stamp, payload []byte) bool
	InvalidateProduct(ctx context.Context, productID int64) error
}

// ListReviewsInput holds the parameters of a review listing. Zero values
// for Page, Count and Sort select the defaults.
type ListReviewsInput struct {
	ProductID int64
	Page      int
	Count     int
	Sort      string
}

// CreateReviewInput holds the fields of a submitted review.
type CreateReviewInput struct {
	ProductID       int64
	Rating          int
	Summary         string
	Body            string
	Recommend       bool
	Name            string
	Email           string
	Photos          []string
	Characteristics map[int64]int
}

// ReviewService implements the review operations on top of the store and
// the response cache.
type ReviewService struct {
	repo      repository.ReviewRepository
	cache     ReviewCache
	publisher event.Publisher
	logger    *slog.Logger
}

// NewReviewService creates a new review service.
func NewReviewService(repo repository.ReviewRepository, cache ReviewCache, publisher event.Publisher, logger *slog.Logger) *ReviewService {
	return &ReviewService{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
	}
}

// ListReviews returns the encoded listing page for a product. Cached pages
// are returned verbatim.
func (s *ReviewService) ListReviews(ctx context.Context, in ListReviewsInput) (json.RawMessage, error) {
	in = withListDefaults(in)
	if err := validateProductID(in.ProductID); err != nil {
		return nil, err
	}
	page := pagination.Params{Page: in.Page, Count: in.Count}
	if err := page.Validate(); err != nil {
		return nil, err
	}
	if !domain.IsValidSort(in.Sort) {
		return nil, apperrors.InvalidInputf("sort must be one of %s", strings.Join(domain.ValidSorts(), ", "))
	}

	// The stamp is taken before the store read so a fill racing a write's
	// invalidation is dropped.
	key := cache.ListKey(in.ProductID, in.Page, in.Count, in.Sort)
	payload, stamp, hit := s.cache.Get(ctx, key)
	if hit {
		return payload, nil
	}

	reviews, err := s.repo.ListByProduct(ctx, repository.ListFilter{
		ProductID: in.ProductID,
		Page:      in.Page,
		Count:     in.Count,
		Sort:      in.Sort,
	})
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}

	ids := make([]int64, len(reviews))
	for i, r := range reviews {
		ids[i] = r.ID
	}
	photos, err := s.repo.ListPhotos(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list review photos: %w", err)
	}
	domain.AttachPhotos(reviews, photos)

	payload, err = json.Marshal(domain.ReviewPage{
		Product: strconv.FormatInt(in.ProductID, 10),
		Page:    page.ZeroBasedPage(),
		Count:   page.Count,
		Results: reviews,
	})
	if err != nil {
		return nil, fmt.Errorf("encode review page: %w", err)
	}

	s.cache.Set(ctx, key, stamp, payload)
	return payload, nil
}

// GetReviewMeta returns the encoded aggregate metadata of a product.
func (s *ReviewService) GetReviewMeta(ctx context.Context, productID int64) (json.RawMessage, error) {
	if err := validateProductID(productID); err != nil {
		return nil, err
	}

	key := cache.MetaKey(productID)
	payload, stamp, hit := s.cache.Get(ctx, key)
	if hit {
		return payload, nil
	}

	meta, err := s.repo.GetMeta(ctx, productID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("review metadata for product", productID)
		}
		return nil, fmt.Errorf("get review meta: %w", err)
	}

	payload, err = json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode review meta: %w", err)
	}

	s.cache.Set(ctx, key, stamp, payload)
	return payload, nil
}

// CreateReview stores a review with its photos and characteristic ratings
// and returns its id.
func (s *ReviewService) CreateReview(ctx context.Context, in CreateReviewInput) (int64, error) {
	if err := validateCreate(in); err != nil {
		return 0, err
	}

	id, err := s.repo.Create(ctx, &domain.NewReview{
		ProductID:       in.ProductID,
		Rating:          in.Rating,
		Summary:         in.Summary,
		Body:            in.Body,
		Recommend:       in.Recommend,
		ReviewerName:    in.Name,
		ReviewerEmail:   in.Email,
		Photos:          in.Photos,
		Characteristics: in.Characteristics,
	})
	if err != nil {
		return 0, fmt.Errorf("create review: %w", err)
	}

	s.logger.InfoContext(ctx, "review created",
		slog.Int64("review_id", id),
		slog.Int64("product_id", in.ProductID),
		slog.Int("rating", in.Rating),
		slog.Int("photos", len(in.Photos)),
	)

	s.invalidate(ctx, in.ProductID)
	if err := s.publisher.PublishReviewCreated(ctx, event.ReviewCreatedData{
		ReviewID:  id,
		ProductID: in.ProductID,
		Rating:    in.Rating,
		Recommend: in.Recommend,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish review created event",
			slog.Int64("review_id", id),
			slog.String("error", err.Error()),
		)
	}

	return id, nil
}

// MarkHelpful adds one helpful vote to a review.
func (s *ReviewService) MarkHelpful(ctx context.Context, reviewID int64) error {
	productID, err := s.update(ctx, reviewID, s.repo.IncrementHelpfulness)
	if err != nil {
		return err
	}

	if err := s.publisher.PublishReviewHelpful(ctx, reviewID, productID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish review helpful event",
			slog.Int64("review_id", reviewID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// ReportReview flags a review so it no longer appears in listings.
// Reporting an already reported review succeeds.
func (s *ReviewService) ReportReview(ctx context.Context, reviewID int64) error {
	productID, err := s.update(ctx, reviewID, s.repo.MarkReported)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "review reported",
		slog.Int64("review_id", reviewID),
		slog.Int64("product_id", productID),
	)

	if err := s.publisher.PublishReviewReported(ctx, reviewID, productID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish review reported event",
			slog.Int64("review_id", reviewID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (s *ReviewService) update(ctx context.Context, reviewID int64, apply func(context.Context, int64) (int64, error)) (int64, error) {
	if reviewID <= 0 {
		return 0, apperrors.InvalidInput("review_id must be a positive integer")
	}

	productID, err := apply(ctx, reviewID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return 0, apperrors.NotFound("review", reviewID)
		}
		return 0, fmt.Errorf("update review: %w", err)
	}

	s.invalidate(ctx, productID)
	return productID, nil
}

// invalidateTimeout bounds cache invalidation once it is detached from the
// request.
const invalidateTimeout = 2 * time.Second

// invalidate drops the product's cached responses. The write has already
// committed, so it still runs when the client has gone away, and a cache
// failure is logged rather than returned.
func (s *ReviewService) invalidate(ctx context.Context, productID int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()
	if err := s.cache.InvalidateProduct(ctx, productID); err != nil {
		s.logger.ErrorContext(ctx, "failed to invalidate review cache",
			slog.Int64("product_id", productID),
			slog.String("error", err.Error()),
		)
	}
}

func withListDefaults(in ListReviewsInput) ListReviewsInput {
	if in.Page == 0 {
		in.Page = pagination.DefaultPage
	}
	if in.Count == 0 {
		in.Count = pagination.DefaultCount
	}
	if in.Sort == "" {
		in.Sort = domain.DefaultSort
	}
	return in
}

func validateProductID(id int64) error {
	if id <= 0 {
		return apperrors.InvalidInput("product_id is required")
	}
	return nil
}

func validateCreate(in CreateReviewInput) error {
	if err := validateProductID(in.ProductID); err != nil {
		return err
	}
	if in.Rating < 1 || in.Rating > 5 {
		return apperrors.InvalidInput("rating must be between 1 and 5")
	}
	if strings.TrimSpace(in.Name) == "" {
		return apperrors.InvalidInput("name is required")
	}
	if strings.TrimSpace(in.Email) == "" {
		return apperrors.InvalidInput("email is required")
	}
	for _, url := range in.Photos {
		if strings.TrimSpace(url) == "" {
			return apperrors.InvalidInput("photos must not contain empty urls")
		}
	}
	for id, v := range in.Characteristics {
		if id <= 0 {
			return apperrors.InvalidInputf("characteristic id %d is invalid", id)
		}
		if v < 1 || v > 5 {
			return apperrors.InvalidInputf("characteristic %d value must be between 1 and 5", id)
		}
	}
	return nil
}
