package repository

import (
	"context"

	"github.com/Knights-Who-Say-Node/reviews/internal/domain"
)

// ListFilter selects one page of a product's reviews. Page is 1-based.
type ListFilter struct {
	ProductID int64
	Page      int
	Count     int
	Sort      string
}

// ReviewRepository defines the persistence operations for reviews.
type ReviewRepository interface {
	// ListByProduct returns one page of visible reviews without photos.
	ListByProduct(ctx context.Context, filter ListFilter) ([]domain.Review, error)

	// ListPhotos returns the photos of the given reviews in one query.
	ListPhotos(ctx context.Context, reviewIDs []int64) ([]domain.ReviewPhoto, error)

	// GetMeta returns the aggregate statistics of a product. It returns
	// ErrNotFound when the product has no reviews.
	GetMeta(ctx context.Context, productID int64) (*domain.ReviewMeta, error)

	// Create inserts a review with its photos and characteristic ratings in a
	// single transaction and returns the new review id.
	Create(ctx context.Context, review *domain.NewReview) (int64, error)

	// IncrementHelpfulness adds one to a review's helpfulness and returns the
	// review's product id.
	IncrementHelpfulness(ctx context.Context, reviewID int64) (int64, error)

	// MarkReported flags a review as reported and returns its product id.
	MarkReported(ctx context.Context, reviewID int64) (int64, error)
}
