package validation

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queryBody struct {
	Query string `json:"query" validate:"notblank,no_null_bytes,max=20"`
}

type nearestParams struct {
	Lat   *float64 `form:"lat"   validate:"required,gte=-90,lte=90"`
	Lon   *float64 `form:"lon"   validate:"required,gte=-180,lte=180"`
	Limit int      `form:"limit" validate:"omitempty,min=1,max=100"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name    string
		body    queryBody
		wantErr string
	}{
		{name: "valid", body: queryBody{Query: "warm water"}},
		{name: "blank", body: queryBody{Query: "  \t"}, wantErr: "query is required"},
		{name: "null byte", body: queryBody{Query: "a\x00b"}, wantErr: "query must not contain NULL bytes"},
		{name: "too long", body: queryBody{Query: "a very long query about floats"}, wantErr: "query must be at most 20"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.body)
			if tt.wantErr == "" {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			details := GetValidationErrorDetails(err)
			require.Len(t, details, 1)
			assert.Equal(t, "query", details[0].Location)
		})
	}
}

func TestValidateAndDecodeQueryParams(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/profiles/nearest?lat=-43.5&lon=130&limit=5", nil)

		var p nearestParams
		require.NoError(t, ValidateAndDecodeQueryParams(req, &p))
		assert.InDelta(t, -43.5, *p.Lat, 1e-12)
		assert.InDelta(t, 130.0, *p.Lon, 1e-12)
		assert.Equal(t, 5, p.Limit)
	})

	t.Run("missing lon", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/profiles/nearest?lat=10", nil)

		var p nearestParams
		err := ValidateAndDecodeQueryParams(req, &p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "lon is required")
	})

	t.Run("out of range", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/profiles/nearest?lat=95&lon=0", nil)

		var p nearestParams
		err := ValidateAndDecodeQueryParams(req, &p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "lat must be less than or equal to 90")
	})

	t.Run("not a number", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/profiles/nearest?lat=north&lon=0", nil)

		var p nearestParams
		assert.Error(t, ValidateAndDecodeQueryParams(req, &p))
	})
}

func TestRespondValidationError(t *testing.T) {
	rec := httptest.NewRecorder()

	RespondValidationError(rec, ValidateStruct(queryBody{}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"location":"query"`)
}
