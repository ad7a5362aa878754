package domain

import (
	"encoding/json"
	"time"
)

// Review is a single product review as returned in listings.
type Review struct {
	ID           int64         `json:"review_id"`
	ProductID    int64         `json:"-"`
	Rating       int           `json:"rating"`
	Summary      string        `json:"summary"`
	Recommend    bool          `json:"recommend"`
	Response     *string       `json:"response"`
	Body         string        `json:"body"`
	Date         time.Time     `json:"date"`
	ReviewerName string        `json:"reviewer_name"`
	Helpfulness  int           `json:"helpfulness"`
	Photos       []ReviewPhoto `json:"photos"`
}

// ReviewPhoto is a photo URL attached to a review.
type ReviewPhoto struct {
	ID       int64  `json:"id"`
	ReviewID int64  `json:"-"`
	URL      string `json:"url"`
}

// NewReview holds the columns written when a review is submitted. Date,
// reported and helpfulness are assigned by the store.
type NewReview struct {
	ProductID       int64
	Rating          int
	Summary         string
	Body            string
	Recommend       bool
	ReviewerName    string
	ReviewerEmail   string
	Photos          []string
	Characteristics map[int64]int
}

// ReviewPage is the response body of a review listing. Page is zero-indexed.
type ReviewPage struct {
	Product string   `json:"product"`
	Page    int      `json:"page"`
	Count   int      `json:"count"`
	Results []Review `json:"results"`
}

// ReviewMeta holds aggregate review statistics for a product. The aggregate
// documents are computed by the store and passed through untouched.
type ReviewMeta struct {
	ProductID       string          `json:"product_id"`
	Ratings         json.RawMessage `json:"ratings"`
	Recommended     json.RawMessage `json:"recommended"`
	Characteristics json.RawMessage `json:"characteristics"`
}

// AttachPhotos joins photos onto the reviews they belong to. Every review ends
// up with a non-nil photo list.
func AttachPhotos(reviews []Review, photos []ReviewPhoto) {
	byReview := make(map[int64][]ReviewPhoto, len(reviews))
	for _, p := range photos {
		byReview[p.ReviewID] = append(byReview[p.ReviewID], p)
	}
	for i := range reviews {
		if ps, ok := byReview[reviews[i].ID]; ok {
			reviews[i].Photos = ps
		} else {
			reviews[i].Photos = []ReviewPhoto{}
		}
	}
}
