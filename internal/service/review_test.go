package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Knights-Who-Say-Node/reviews/internal/cache"
	"github.com/Knights-Who-Say-Node/reviews/internal/domain"
	"github.com/Knights-Who-Say-Node/reviews/internal/event"
	"github.com/Knights-Who-Say-Node/reviews/internal/repository"
	apperrors "github.com/Knights-Who-Say-Node/reviews/pkg/errors"
)

// --- Mocks ---

type mockReviewRepository struct {
	mock.Mock
}

func (m *mockReviewRepository) ListByProduct(ctx context.Context, f repository.ListFilter) ([]domain.Review, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Review), args.Error(1)
}

func (m *mockReviewRepository) ListPhotos(ctx context.Context, ids []int64) ([]domain.ReviewPhoto, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ReviewPhoto), args.Error(1)
}

func (m *mockReviewRepository) GetMeta(ctx context.Context, productID int64) (*domain.ReviewMeta, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReviewMeta), args.Error(1)
}

func (m *mockReviewRepository) Create(ctx context.Context, nr *domain.NewReview) (int64, error) {
	args := m.Called(ctx, nr)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockReviewRepository) IncrementHelpfulness(ctx context.Context, id int64) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockReviewRepository) MarkReported(ctx context.Context, id int64) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishReviewCreated(ctx context.Context, data event.ReviewCreatedData) error {
	return m.Called(ctx, data).Error(0)
}

func (m *mockPublisher) PublishReviewHelpful(ctx context.Context, reviewID, productID int64) error {
	return m.Called(ctx, reviewID, productID).Error(0)
}

func (m *mockPublisher) PublishReviewReported(ctx context.Context, reviewID, productID int64) error {
	return m.Called(ctx, reviewID, productID).Error(0)
}

// failingCache behaves like a cache whose Redis is down.
type failingCache struct{}

func (failingCache) Get(context.Context, cache.Key) ([]byte, cache.Stamp, bool) { return nil, 0, false }
func (failingCache) Set(context.Context, cache.Key, cache.Stamp, []byte) bool { return false }
func (failingCache) InvalidateProduct(context.Context, int64) error {
	return errors.New("dial tcp: connection refused")
}

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	svc  *ReviewService
	repo *mockReviewRepository
	pub  *mockPublisher
	mr   *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	breaker := cache.DefaultBreakerConfig()
	breaker.Name = t.Name()
	c := cache.New(client, cache.Config{TTL: time.Hour, Breaker: breaker}, newTestLogger())

	repo := &mockReviewRepository{}
	pub := &mockPublisher{}
	return &fixture{
		svc:  NewReviewService(repo, c, pub, newTestLogger()),
		repo: repo,
		pub:  pub,
		mr:   mr,
	}
}

func sampleReviews() []domain.Review {
	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []domain.Review{
		{ID: 5, ProductID: 42, Rating: 5, Summary: "Great", Body: "Fits well", Recommend: true, Date: date, ReviewerName: "ann", Helpfulness: 2},
		{ID: 3, ProductID: 42, Rating: 3, Summary: "Okay", Body: "Runs small", Date: date.Add(-time.Hour), ReviewerName: "bob"},
	}
}

func defaultFilter(productID int64) repository.ListFilter {
	return repository.ListFilter{ProductID: productID, Page: 1, Count: 5, Sort: domain.SortNewest}
}

func validCreateInput() CreateReviewInput {
	return CreateReviewInput{
		ProductID:       42,
		Rating:          4,
		Summary:         "Solid",
		Body:            "Did the job.",
		Recommend:       true,
		Name:            "sam",
		Email:           "sam@example.com",
		Photos:          []string{"https://img.example.com/1.jpg"},
		Characteristics: map[int64]int{9: 4},
	}
}

// --- ListReviews ---

func TestListReviews_MissAssemblesPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.On("ListByProduct", ctx, defaultFilter(42)).Return(sampleReviews(), nil).Once()
	f.repo.On("ListPhotos", ctx, []int64{5, 3}).Return([]domain.ReviewPhoto{
		{ID: 1, ReviewID: 5, URL: "https://img.example.com/a.jpg"},
	}, nil).Once()

	payload, err := f.svc.ListReviews(ctx, ListReviewsInput{ProductID: 42})
	require.NoError(t, err)

	var page struct {
		Product string `json:"product"`
		Page    int    `json:"page"`
		Count   int    `json:"count"`
		Results []struct {
			ReviewID int64 `json:"review_id"`
			Photos   []struct {
				ID  int64  `json:"id"`
				URL string `json:"url"`
			} `json:"photos"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(payload, &page))
	assert.Equal(t, "42", page.Product)
	assert.Equal(t, 0, page.Page)
	assert.Equal(t, 5, page.Count)
	require.Len(t, page.Results, 2)
	assert.Len(t, page.Results[0].Photos, 1)
	assert.NotNil(t, page.Results[1].Photos)
	assert.Empty(t, page.Results[1].Photos)

	f.repo.AssertExpectations(t)
}

func TestListReviews_RepeatedCallServedFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.On("ListByProduct", ctx, defaultFilter(42)).Return(sampleReviews(), nil).Once()
	f.repo.On("ListPhotos", ctx, []int64{5, 3}).Return([]domain.ReviewPhoto{}, nil).Once()

	first, err := f.svc.ListReviews(ctx, ListReviewsInput{ProductID: 42})
	require.NoError(t, err)
	second, err := f.svc.ListReviews(ctx, ListReviewsInput{ProductID: 42, Page: 1, Count: 5, Sort: "newest"})
	require.NoError(t, err)

	assert.Equal(t, []byte(first), []byte(second))
	f.repo.AssertNumberOfCalls(t, "ListByProduct", 1)
	f.repo.AssertNumberOfCalls(t, "ListPhotos", 1)
}

func TestListReviews_PageOffsetEcho(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	filter := repository.ListFilter{ProductID: 42, Page: 3, Count: 10, Sort: domain.SortHelpful}
	f.repo.On("ListByProduct", ctx, filter).Return([]domain.Review{}, nil).Once()
	f.repo.On("ListPhotos", ctx, []int64{}).Return([]domain.ReviewPhoto{}, nil).Once()

	payload, err := f.svc.ListReviews(ctx, ListReviewsInput{ProductID: 42, Page: 3, Count: 10, Sort: domain.SortHelpful})
	require.NoError(t, err)
	assert.JSONEq(t, `{"product":"42","page":2,"count":10,"results":[]}`, string(payload))
}

func TestListReviews_InvalidInput(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		in   ListReviewsInput
		msg  string
	}{
		{"missing product", ListReviewsInput{}, "product_id is required"},
		{"negative product", ListReviewsInput{ProductID: -1}, "product_id is required"},
		{"negative page", ListReviewsInput{ProductID: 1, Page: -2}, "page must be at least 1"},
		{"count too large", ListReviewsInput{ProductID: 1, Count: 101}, "count must be between 1 and 100"},
		{"negative count", ListReviewsInput{ProductID: 1, Count: -5}, "count must be between 1 and 100"},
		{"unknown sort", ListReviewsInput{ProductID: 1, Sort: "oldest"}, "sort must be one of newest, helpful, relevant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ListReviews(context.Background(), tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
	f.repo.AssertNotCalled(t, "ListByProduct", mock.Anything, mock.Anything)
}

func TestListReviews_StoreErrorNotCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.On("ListByProduct", ctx, defaultFilter(42)).Return(nil, errors.New("connection reset")).Once()

	_, err := f.svc.ListReviews(ctx, ListReviewsInput{ProductID: 42})
	require.Error(t, err)
	assert.Equal(t, 500, apperrors.HTTPStatus(err))
	assert.False(t, f.mr.Exists(cache.ListKey(42, 1, 5, "newest").String()))
}

func TestListReviews_PhotoErrorFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.On("ListByProduct", ctx, defaultFilter(42)).Return(sampleReviews(), nil).Once()
	f.repo.On("ListPhotos", ctx, []int64{5, 3}).Return(nil, errors.New("timeout")).Once()

	_, err := f.svc.ListReviews(ctx, ListReviewsInput{ProductID: 42})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list review photos")
}

func TestListReviews_CacheDownFallsBackToStore(t *testing.T) {
	repo := &mockReviewRepository{}
	svc := NewReviewService(repo, failingCache{}, event.NoopPublisher{}, newTestLogger())
	ctx := context.Background()

	repo.On("ListByProduct", ctx, defaultFilter(42)).Return([]domain.Review{}, nil).Twice()
	repo.On("ListPhotos", ctx, []int64{}).Return([]domain.ReviewPhoto{}, nil).Twice()

	for i := 0; i < 2; i++ {
		_, err := svc.ListReviews(ctx, ListReviewsInput{ProductID: 42})
		require.NoError(t, err)
	}
	repo.AssertExpectations(t)
}

// --- GetReviewMeta ---

func sampleMeta() *domain.ReviewMeta {
	return &domain.ReviewMeta{
		ProductID:       "42",
		Ratings:         json.RawMessage(`{"3":"1","5":"1"}`),
		Recommended:     json.RawMessage(`{"false":"1","true":"1"}`),
		Characteristics: json.RawMessage(`{"Fit":{"id":9,"value":"4.0000"}}`),
	}
}

func TestGetReviewMeta_MissThenHit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.On("GetMeta", ctx, int64(42)).Return(sampleMeta(), nil).Once()

	first, err := f.svc.GetReviewMeta(ctx, 42)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"product_id": "42",
		"ratings": {"3":"1","5":"1"},
		"recommended": {"false":"1","true":"1"},
		"characteristics": {"Fit":{"id":9,"value":"4.0000"}}
	}`, string(first))

	second, err := f.svc.GetReviewMeta(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []byte(first), []byte(second))
	f.repo.AssertNumberOfCalls(t, "GetMeta", 1)
}

func TestGetReviewMeta_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.On("GetMeta", ctx, int64(99)).Return(nil, apperrors.ErrNotFound).Once()

	_, err := f.svc.GetReviewMeta(ctx, 99)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, 404, apperrors.HTTPStatus(err))
	assert.False(t, f.mr.Exists(cache.MetaKey(99).String()))
}

func TestGetReviewMeta_MissingProduct(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetReviewMeta(context.Background(), 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

// --- CreateReview ---

func TestCreateReview_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := validCreateInput()

	f.repo.On("Create", ctx, &domain.NewReview{
		ProductID:       42,
		Rating:          4,
		Summary:         "Solid",
		Body:            "Did the job.",
		Recommend:       true,
		ReviewerName:    "sam",
		ReviewerEmail:   "sam@example.com",
		Photos:          in.Photos,
		Characteristics: in.Characteristics,
	}).Return(int64(77), nil).Once()
	f.pub.On("PublishReviewCreated", ctx, event.ReviewCreatedData{
		ReviewID: 77, ProductID: 42, Rating: 4, Recommend: true,
	}).Return(nil).Once()

	id, err := f.svc.CreateReview(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, int64(77), id)
	f.repo.AssertExpectations(t)
	f.pub.AssertExpectations(t)
}

func TestCreateReview_InvalidatesCachedReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.On("ListByProduct", ctx, defaultFilter(42)).Return([]domain.Review{}, nil).Once()
	f.repo.On("ListPhotos", ctx, []int64{}).Return([]domain.ReviewPhoto{}, nil).Once()
	f.repo.On("GetMeta", ctx, int64(42)).Return(sampleMeta(), nil).Once()

	_, err := f.svc.ListReviews(ctx, ListReviewsInput{ProductID: 42})
	require.NoError(t, err)
	_, err = f.svc.GetReviewMeta(ctx, 42)
	require.NoError(t, err)

	f.repo.On("Create", ctx, mock.AnythingOfType("*domain.NewReview")).Return(int64(78), nil).Once()
	f.pub.On("PublishReviewCreated", ctx, mock.Anything).Return(nil).Once()
	_, err = f.svc.CreateReview(ctx, validCreateInput())
	require.NoError(t, err)

	created := sampleReviews()[:1]
	created[0].ID = 78
	f.repo.On("ListByProduct", ctx, defaultFilter(42)).Return(created, nil).Once()
	f.repo.On("ListPhotos", ctx, []int64{78}).Return([]domain.ReviewPhoto{}, nil).Once()
	f.repo.On("GetMeta", ctx, int64(42)).Return(sampleMeta(), nil).Once()

	payload, err := f.svc.ListReviews(ctx, ListReviewsInput{ProductID: 42})
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"review_id":78`)
	_, err = f.svc.GetReviewMeta(ctx, 42)
	require.NoError(t, err)

	f.repo.AssertNumberOfCalls(t, "ListByProduct", 2)
	f.repo.AssertNumberOfCalls(t, "GetMeta", 2)
}

func TestCreateReview_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*CreateReviewInput)
		msg    string
	}{
		{"missing product", func(in *CreateReviewInput) { in.ProductID = 0 }, "product_id is required"},
		{"rating too low", func(in *CreateReviewInput) { in.Rating = 0 }, "rating must be between 1 and 5"},
		{"rating too high", func(in *CreateReviewInput) { in.Rating = 6 }, "rating must be between 1 and 5"},
		{"blank name", func(in *CreateReviewInput) { in.Name = "  " }, "name is required"},
		{"blank email", func(in *CreateReviewInput) { in.Email = "" }, "email is required"},
		{"empty photo", func(in *CreateReviewInput) { in.Photos = []string{""} }, "empty urls"},
		{"bad characteristic id", func(in *CreateReviewInput) { in.Characteristics = map[int64]int{0: 3} }, "characteristic id 0"},
		{"bad characteristic value", func(in *CreateReviewInput) { in.Characteristics = map[int64]int{9: 7} }, "characteristic 9 value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validCreateInput()
			tt.mutate(&in)
			_, err := f.svc.CreateReview(context.Background(), in)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateReview_StoreFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.On("Create", ctx, mock.AnythingOfType("*domain.NewReview")).
		Return(int64(0), errors.New("insert characteristic 9: foreign key violation")).Once()

	_, err := f.svc.CreateReview(ctx, validCreateInput())
	require.Error(t, err)
	assert.Equal(t, 500, apperrors.HTTPStatus(err))
	f.pub.AssertNotCalled(t, "PublishReviewCreated", mock.Anything, mock.Anything)
}

func TestCreateReview_PublishAndCacheFailuresDoNotFail(t *testing.T) {
	repo := &mockReviewRepository{}
	pub := &mockPublisher{}
	svc := NewReviewService(repo, failingCache{}, pub, newTestLogger())
	ctx := context.Background()

	repo.On("Create", ctx, mock.AnythingOfType("*domain.NewReview")).Return(int64(80), nil).Once()
	pub.On("PublishReviewCreated", ctx, mock.Anything).Return(errors.New("broker down")).Once()

	id, err := svc.CreateReview(ctx, validCreateInput())
	require.NoError(t, err)
	assert.Equal(t, int64(80), id)
}

// --- MarkHelpful / ReportReview ---

func TestMarkHelpful_InvalidatesAfterClientDisconnect(t *testing.T) {
	f := newFixture(t)
	key := cache.MetaKey(42)
	require.NoError(t, f.mr.Set(key.String(), `{"old":true}`))
	f.mr.SAdd("review_keys:{42}", key.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.repo.On("IncrementHelpfulness", mock.Anything, int64(5)).
		Run(func(mock.Arguments) { cancel() }).
		Return(int64(42), nil).Once()
	f.pub.On("PublishReviewHelpful", mock.Anything, int64(5), int64(42)).Return(nil).Once()

	require.NoError(t, f.svc.MarkHelpful(ctx, 5))

	assert.False(t, f.mr.Exists(key.String()))
	epoch, err := f.mr.Get("review_epoch:{42}")
	require.NoError(t, err)
	assert.Equal(t, "1", epoch)
}

func TestMarkHelpful_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := cache.MetaKey(42)
	require.NoError(t, f.mr.Set(key.String(), `{}`))
	f.mr.SAdd("review_keys:{42}", key.String())

	f.repo.On("IncrementHelpfulness", ctx, int64(5)).Return(int64(42), nil).Once()
	f.pub.On("PublishReviewHelpful", ctx, int64(5), int64(42)).Return(nil).Once()

	require.NoError(t, f.svc.MarkHelpful(ctx, 5))
	assert.False(t, f.mr.Exists(key.String()))
	f.pub.AssertExpectations(t)
}

func TestMarkHelpful_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.On("IncrementHelpfulness", ctx, int64(404)).Return(int64(0), apperrors.ErrNotFound).Once()

	err := f.svc.MarkHelpful(ctx, 404)
	require.Error(t, err)
	assert.Equal(t, 404, apperrors.HTTPStatus(err))
	f.pub.AssertNotCalled(t, "PublishReviewHelpful", mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkHelpful_InvalidID(t *testing.T) {
	f := newFixture(t)
	err := f.svc.MarkHelpful(context.Background(), 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestReportReview_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.On("MarkReported", ctx, int64(5)).Return(int64(42), nil).Twice()
	f.pub.On("PublishReviewReported", ctx, int64(5), int64(42)).Return(nil).Twice()

	require.NoError(t, f.svc.ReportReview(ctx, 5))
	require.NoError(t, f.svc.ReportReview(ctx, 5))
	f.repo.AssertExpectations(t)
}

func TestReportReview_StoreError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.On("MarkReported", ctx, int64(5)).Return(int64(0), errors.New("deadlock detected")).Once()

	err := f.svc.ReportReview(ctx, 5)
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, 500, apperrors.HTTPStatus(err))
}
