package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/Knights-Who-Say-Node/reviews/internal/domain"
	"github.com/Knights-Who-Say-Node/reviews/internal/repository"
	"github.com/Knights-Who-Say-Node/reviews/pkg/database"
	apperrors "github.com/Knights-Who-Say-Node/reviews/pkg/errors"
)

const (
	listReviewsSQL = `
		SELECT id, product_id, rating, summary, recommend, response, body, date, reviewer_name, helpfulness
		FROM getReviews($1, $2, $3, $4)`

	listPhotosSQL = `
		SELECT id, review_id, url
		FROM review_photos
		WHERE review_id = ANY($1::bigint[])
		ORDER BY id`

	getMetaSQL = `
		SELECT product_id, ratings, recommended, characteristics
		FROM get_review_meta($1)`

	insertReviewSQL = `
		INSERT INTO reviews (product_id, rating, date, summary, body, recommend, reported, reviewer_name, reviewer_email, helpfulness)
		VALUES ($1, $2, NOW(), $3, $4, $5, FALSE, $6, $7, 0)
		RETURNING id`

	insertPhotoSQL = `INSERT INTO review_photos (review_id, url) VALUES ($1, $2)`

	insertCharacteristicSQL = `
		INSERT INTO characteristic_reviews (characteristic_id, review_id, value)
		VALUES ($1, $2, $3)`

	incrementHelpfulSQL = `UPDATE reviews SET helpfulness = helpfulness + 1 WHERE id = $1 RETURNING product_id`

	markReportedSQL = `UPDATE reviews SET reported = TRUE WHERE id = $1 RETURNING product_id`
)

// ReviewRepository implements review persistence on PostgreSQL.
type ReviewRepository struct {
	pool database.DBTX
}

var _ repository.ReviewRepository = (*ReviewRepository)(nil)

// NewReviewRepository creates a new PostgreSQL-backed review repository.
func NewReviewRepository(pool database.DBTX) *ReviewRepository {
	return &ReviewRepository{pool: pool}
}

// ListByProduct returns one page of reviews ordered by the filter's sort.
func (r *ReviewRepository) ListByProduct(ctx context.Context, f repository.ListFilter) (_ []domain.Review, err error) {
	ctx, end := database.TraceQuery(ctx, "ListReviews", listReviewsSQL)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, listReviewsSQL, f.Page, f.Count, f.Sort, f.ProductID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	reviews := []domain.Review{}
	for rows.Next() {
		var rv domain.Review
		if err := rows.Scan(
			&rv.ID,
			&rv.ProductID,
			&rv.Rating,
			&rv.Summary,
			&rv.Recommend,
			&rv.Response,
			&rv.Body,
			&rv.Date,
			&rv.ReviewerName,
			&rv.Helpfulness,
		); err != nil {
			return nil, fmt.Errorf("scan review row: %w", err)
		}
		reviews = append(reviews, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review rows: %w", err)
	}

	return reviews, nil
}

// ListPhotos returns every photo belonging to reviewIDs. No query is issued
// for an empty id list.
func (r *ReviewRepository) ListPhotos(ctx context.Context, reviewIDs []int64) (_ []domain.ReviewPhoto, err error) {
	if len(reviewIDs) == 0 {
		return []domain.ReviewPhoto{}, nil
	}

	ctx, end := database.TraceQuery(ctx, "ListReviewPhotos", listPhotosSQL)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, listPhotosSQL, reviewIDs)
	if err != nil {
		return nil, fmt.Errorf("list review photos: %w", err)
	}
	defer rows.Close()

	photos := []domain.ReviewPhoto{}
	for rows.Next() {
		var p domain.ReviewPhoto
		if err := rows.Scan(&p.ID, &p.ReviewID, &p.URL); err != nil {
			return nil, fmt.Errorf("scan review photo row: %w", err)
		}
		photos = append(photos, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review photo rows: %w", err)
	}

	return photos, nil
}

// GetMeta runs get_review_meta for a product.
func (r *ReviewRepository) GetMeta(ctx context.Context, productID int64) (_ *domain.ReviewMeta, err error) {
	ctx, end := database.TraceQuery(ctx, "GetReviewMeta", getMetaSQL)
	defer func() { end(err) }()

	var (
		id                                    int64
		ratings, recommended, characteristics []byte
	)
	err = r.pool.QueryRow(ctx, getMetaSQL, productID).Scan(&id, &ratings, &recommended, &characteristics)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get review meta: %w", err)
	}

	return &domain.ReviewMeta{
		ProductID:       strconv.FormatInt(id, 10),
		Ratings:         ratings,
		Recommended:     recommended,
		Characteristics: characteristics,
	}, nil
}

// Create inserts the review, its photos and its characteristic ratings
// atomically. Any failed statement rolls the whole review back.
func (r *ReviewRepository) Create(ctx context.Context, nr *domain.NewReview) (_ int64, err error) {
	ctx, end := database.TraceQuery(ctx, "CreateReview", insertReviewSQL)
	defer func() { end(err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var id int64
	err = tx.QueryRow(ctx, insertReviewSQL,
		nr.ProductID,
		nr.Rating,
		nr.Summary,
		nr.Body,
		nr.Recommend,
		nr.ReviewerName,
		nr.ReviewerEmail,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert review: %w", err)
	}

	for _, url := range nr.Photos {
		if _, err = tx.Exec(ctx, insertPhotoSQL, id, url); err != nil {
			return 0, fmt.Errorf("insert review photo: %w", err)
		}
	}

	for _, cid := range characteristicIDs(nr.Characteristics) {
		if _, err = tx.Exec(ctx, insertCharacteristicSQL, cid, id, nr.Characteristics[cid]); err != nil {
			return 0, fmt.Errorf("insert characteristic %d: %w", cid, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return id, nil
}

// IncrementHelpfulness bumps helpfulness in a single statement so concurrent
// votes are never lost.
func (r *ReviewRepository) IncrementHelpfulness(ctx context.Context, reviewID int64) (_ int64, err error) {
	ctx, end := database.TraceQuery(ctx, "MarkReviewHelpful", incrementHelpfulSQL)
	defer func() { end(err) }()

	return r.updateReturningProduct(ctx, incrementHelpfulSQL, reviewID)
}

// MarkReported flags a review. Reporting twice is not an error.
func (r *ReviewRepository) MarkReported(ctx context.Context, reviewID int64) (_ int64, err error) {
	ctx, end := database.TraceQuery(ctx, "ReportReview", markReportedSQL)
	defer func() { end(err) }()

	return r.updateReturningProduct(ctx, markReportedSQL, reviewID)
}

func (r *ReviewRepository) updateReturningProduct(ctx context.Context, query string, reviewID int64) (int64, error) {
	var productID int64
	if err := r.pool.QueryRow(ctx, query, reviewID).Scan(&productID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.ErrNotFound
		}
		return 0, fmt.Errorf("update review %d: %w", reviewID, err)
	}
	return productID, nil
}

// characteristicIDs returns the map keys in ascending order so inserts are
// deterministic.
func characteristicIDs(m map[int64]int) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
