package event

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	pkgkafka "github.com/Knights-Who-Say-Node/reviews/pkg/kafka"
	"github.com/Knights-Who-Say-Node/reviews/pkg/logger"
)

// AggregateTypeReview is the aggregate every review event refers to.
const AggregateTypeReview = "review"

// SourceReviewService identifies events published by this service.
const SourceReviewService = "reviews-service"

// Review lifecycle topics.
var (
	TopicReviewCreated  = pkgkafka.Topic(AggregateTypeReview, "created")
	TopicReviewHelpful  = pkgkafka.Topic(AggregateTypeReview, "helpful")
	TopicReviewReported = pkgkafka.Topic(AggregateTypeReview, "reported")
)

// ReviewCreatedData is the payload of review.created.
type ReviewCreatedData struct {
	ReviewID  int64 `json:"review_id"`
	ProductID int64 `json:"product_id"`
	Rating    int   `json:"rating"`
	Recommend bool  `json:"recommend"`
}

// ReviewChangedData is the payload of review.helpful and review.reported.
type ReviewChangedData struct {
	ReviewID  int64 `json:"review_id"`
	ProductID int64 `json:"product_id"`
}

// Publisher publishes review lifecycle events.
type Publisher interface {
	PublishReviewCreated(ctx context.Context, data ReviewCreatedData) error
	PublishReviewHelpful(ctx context.Context, reviewID, productID int64) error
	PublishReviewReported(ctx context.Context, reviewID, productID int64) error
}

// EventPublisher is the part of pkgkafka.Producer used here.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes review events to Kafka.
type Producer struct {
	kafka  EventPublisher
	logger *slog.Logger
}

var _ Publisher = (*Producer)(nil)

// NewProducer creates a new event producer for the review service.
func NewProducer(kafka EventPublisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishReviewCreated publishes a review.created event.
func (p *Producer) PublishReviewCreated(ctx context.Context, data ReviewCreatedData) error {
	return p.publish(ctx, TopicReviewCreated, data.ReviewID, data)
}

// PublishReviewHelpful publishes a review.helpful event.
func (p *Producer) PublishReviewHelpful(ctx context.Context, reviewID, productID int64) error {
	return p.publish(ctx, TopicReviewHelpful, reviewID, ReviewChangedData{ReviewID: reviewID, ProductID: productID})
}

// PublishReviewReported publishes a review.reported event.
func (p *Producer) PublishReviewReported(ctx context.Context, reviewID, productID int64) error {
	return p.publish(ctx, TopicReviewReported, reviewID, ReviewChangedData{ReviewID: reviewID, ProductID: productID})
}

func (p *Producer) publish(ctx context.Context, topic string, reviewID int64, data any) error {
	evt, err := pkgkafka.NewEvent(topic, strconv.FormatInt(reviewID, 10), AggregateTypeReview, SourceReviewService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, evt); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.InfoContext(ctx, "published review event",
		slog.String("topic", topic),
		slog.Int64("review_id", reviewID),
		slog.String("event_id", evt.EventID),
	)
	return nil
}

// NoopPublisher discards every event. It is used when Kafka is disabled.
type NoopPublisher struct{}

var _ Publisher = NoopPublisher{}

func (NoopPublisher) PublishReviewCreated(context.Context, ReviewCreatedData) error { return nil }
func (NoopPublisher) PublishReviewHelpful(context.Context, int64, int64) error { return nil }
func (NoopPublisher) PublishReviewReported(context.Context, int64, int64) error { return nil }
