package retry

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/routegw/internal/util"
)

func TestSeriesOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code int
		want Series
	}{
		{code: 100, want: SeriesInformational},
		{code: 204, want: SeriesSuccessful},
		{code: 302, want: SeriesRedirection},
		{code: 404, want: SeriesClientError},
		{code: 503, want: SeriesServerError},
		{code: 0, want: 0},
		{code: 600, want: 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SeriesOf(tt.code), tt.code)
	}
}

func TestParseSeries(t *testing.T) {
	t.Parallel()

	s, err := ParseSeries("server_error")
	require.NoError(t, err)
	assert.Equal(t, SeriesServerError, s)

	_, err = ParseSeries("FATAL")
	assert.Error(t, err)
}

func TestConditions(t *testing.T) {
	t.Parallel()

	transport := errors.New("connection reset")

	tests := []struct {
		name      string
		condition RetryCondition
		err       error
		status    int
		want      bool
	}{
		{name: "status code match", condition: RetryOnStatusCodes(404), status: http.StatusNotFound, want: true},
		{name: "status code miss", condition: RetryOnStatusCodes(404), status: http.StatusOK, want: false},
		{name: "status code ignores errors", condition: RetryOnStatusCodes(404), err: transport, status: 404, want: false},
		{name: "series match", condition: RetryOnSeries(SeriesSuccessful), status: http.StatusOK, want: true},
		{name: "series miss", condition: RetryOnSeries(SeriesServerError), status: http.StatusOK, want: false},
		{name: "error", condition: RetryOnErrors(), err: transport, want: true},
		{name: "no error", condition: RetryOnErrors(), status: http.StatusOK, want: false},
		{
			name: "rate limit is permanent", condition: RetryOnErrors(),
			err: util.NewRateLimitError("k", 1, 0, time.Second), want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.condition.ShouldRetry(tt.err, tt.status))
		})
	}
}
