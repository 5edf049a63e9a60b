package route

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{input: "503", want: http.StatusServiceUnavailable},
		{input: " 404 ", want: http.StatusNotFound},
		{input: "SERVICE_UNAVAILABLE", want: http.StatusServiceUnavailable},
		{input: "internal_server_error", want: http.StatusInternalServerError},
		{input: "BAD_GATEWAY", want: http.StatusBadGateway},
		{input: "PAYLOAD_TOO_LARGE", want: http.StatusRequestEntityTooLarge},
		{input: "NON_AUTHORITATIVE_INFORMATION", want: http.StatusNonAuthoritativeInfo},
		{input: "99", wantErr: true},
		{input: "600", wantErr: true},
		{input: "NOT_A_STATUS", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseStatusCode(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCircuitBreakerPolicy_TriggerCodes(t *testing.T) {
	t.Parallel()

	p := &CircuitBreakerPolicy{StatusCodes: []string{"503", "BAD_GATEWAY", "503"}}
	codes, err := p.TriggerCodes()
	require.NoError(t, err)
	assert.Len(t, codes, 2)
	assert.Contains(t, codes, 503)
	assert.Contains(t, codes, 502)

	_, err = (&CircuitBreakerPolicy{StatusCodes: []string{"nope"}}).TriggerCodes()
	assert.Error(t, err)
}
