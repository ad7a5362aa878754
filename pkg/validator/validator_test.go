package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reviewBody struct {
	ProductID *int64   `json:"product_id" validate:"required,gt=0"`
	Rating    *int     `json:"rating" validate:"required,min=1,max=5"`
	Summary   *string  `json:"summary" validate:"required,max=60"`
	Email     *string  `json:"email" validate:"required,email"`
	Photos    []string `json:"photos" validate:"max=5,dive,url"`
	Sort      string   `json:"sort" validate:"omitempty,oneof=newest helpful relevant"`
}

func ptr[T any](v T) *T { return &v }

func validBody() reviewBody {
	return reviewBody{
		ProductID: ptr(int64(42)),
		Rating:    ptr(5),
		Summary:   ptr("Great"),
		Email:     ptr("sam@example.com"),
		Photos:    []string{"https://img.example.com/1.jpg"},
	}
}

func TestValidate_Success(t *testing.T) {
	assert.NoError(t, Validate(validBody()))
}

func TestValidate_MissingRequired_UsesJSONNames(t *testing.T) {
	b := validBody()
	b.ProductID = nil
	b.Summary = nil

	err := Validate(b)
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	fields := ve.Fields()
	assert.Equal(t, "is required", fields["product_id"])
	assert.Equal(t, "is required", fields["summary"])
}

func TestValidate_RatingOutOfRange(t *testing.T) {
	b := validBody()
	b.Rating = ptr(6)

	var ve *ValidationError
	require.ErrorAs(t, Validate(b), &ve)
	assert.Equal(t, "must be at most 5", ve.Fields()["rating"])

	b.Rating = ptr(0)
	require.ErrorAs(t, Validate(b), &ve)
	assert.Equal(t, "must be at least 1", ve.Fields()["rating"])
}

func TestValidate_StringLength(t *testing.T) {
	b := validBody()
	b.Summary = ptr(strings.Repeat("x", 61))

	var ve *ValidationError
	require.ErrorAs(t, Validate(b), &ve)
	assert.Equal(t, "must be at most 60 characters", ve.Fields()["summary"])
}

func TestValidate_InvalidEmail(t *testing.T) {
	b := validBody()
	b.Email = ptr("not-an-email")

	var ve *ValidationError
	require.ErrorAs(t, Validate(b), &ve)
	assert.Equal(t, "must be a valid email address", ve.Fields()["email"])
}

func TestValidate_PhotoURLs(t *testing.T) {
	b := validBody()
	b.Photos = []string{"https://ok.example.com/a.png", "not a url"}

	var ve *ValidationError
	require.ErrorAs(t, Validate(b), &ve)
	assert.Equal(t, "must be a valid URL", ve.Fields()["photos[1]"])

	b.Photos = make([]string, 6)
	require.ErrorAs(t, Validate(b), &ve)
	assert.Equal(t, "must contain at most 5 items", ve.Fields()["photos"])
}

func TestValidate_OneOf(t *testing.T) {
	b := validBody()
	b.Sort = "oldest"

	var ve *ValidationError
	require.ErrorAs(t, Validate(b), &ve)
	assert.Equal(t, "must be one of: newest helpful relevant", ve.Fields()["sort"])
}

func TestValidationError_ErrorString(t *testing.T) {
	b := validBody()
	b.Rating = nil

	err := Validate(b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'rating' is required")
}

func TestDecodeAndValidate_Success(t *testing.T) {
	body := `{"product_id":42,"rating":4,"summary":"ok","email":"a@b.co","photos":[]}`
	req := httptest.NewRequest(http.MethodPost, "/reviews", strings.NewReader(body))
	rec := httptest.NewRecorder()

	var b reviewBody
	require.NoError(t, DecodeAndValidate(rec, req, &b))
	assert.Equal(t, int64(42), *b.ProductID)
	assert.Equal(t, 4, *b.Rating)
}

func TestDecodeAndValidate_InvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/reviews", strings.NewReader(`{"rating":`))
	var b reviewBody
	err := DecodeAndValidate(httptest.NewRecorder(), req, &b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode request body")
}

func TestDecodeAndValidate_TrailingData(t *testing.T) {
	body := `{"product_id":42,"rating":4,"summary":"ok","email":"a@b.co"} {"x":1}`
	req := httptest.NewRequest(http.MethodPost, "/reviews", strings.NewReader(body))
	var b reviewBody
	err := DecodeAndValidate(httptest.NewRecorder(), req, &b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected data")
}

func TestDecodeAndValidate_BodyTooLarge(t *testing.T) {
	body := `{"summary":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/reviews", strings.NewReader(body))
	var b reviewBody
	err := DecodeAndValidate(httptest.NewRecorder(), req, &b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request body too large")
}

func TestDecodeAndValidate_ValidationFails(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/reviews", strings.NewReader(`{"rating":9}`))
	var b reviewBody
	err := DecodeAndValidate(httptest.NewRecorder(), req, &b)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields(), "product_id")
	assert.Contains(t, ve.Fields(), "rating")
}
