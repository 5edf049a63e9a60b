package route

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// statusAliases covers names whose canonical text differs from the
// net/http status text.
var statusAliases = map[string]int{
	"PAYLOAD_TOO_LARGE":    http.StatusRequestEntityTooLarge,
	"URI_TOO_LONG":         http.StatusRequestURITooLong,
	"I_AM_A_TEAPOT":        http.StatusTeapot,
	"MOVED_TEMPORARILY":    http.StatusFound,
	"REQUEST_TIMEOUT":      http.StatusRequestTimeout,
	"UNPROCESSABLE_ENTITY": http.StatusUnprocessableEntity,
}

// statusNames maps upper snake case status names to codes.
var statusNames = func() map[string]int {
	names := make(map[string]int, len(statusAliases)+64)
	for code := 100; code < 600; code++ {
		text := http.StatusText(code)
		if text == "" {
			continue
		}
		name := strings.ToUpper(text)
		name = strings.NewReplacer(" ", "_", "-", "_", "'", "").Replace(name)
		names[name] = code
	}
	for name, code := range statusAliases {
		names[name] = code
	}
	return names
}()

// ParseStatusCode accepts a numeric code ("503") or a status name
// ("SERVICE_UNAVAILABLE", case-insensitive).
func ParseStatusCode(s string) (int, error) {
	s = strings.TrimSpace(s)
	if code, err := strconv.Atoi(s); err == nil {
		if code < 100 || code > 599 {
			return 0, fmt.Errorf("status code %d out of range", code)
		}
		return code, nil
	}
	if code, ok := statusNames[strings.ToUpper(s)]; ok {
		return code, nil
	}
	return 0, fmt.Errorf("unknown status code %q", s)
}

// TriggerCodes resolves StatusCodes into a set. An invalid entry is an error.
func (p *CircuitBreakerPolicy) TriggerCodes() (map[int]struct{}, error) {
	codes := make(map[int]struct{}, len(p.StatusCodes))
	for _, s := range p.StatusCodes {
		code, err := ParseStatusCode(s)
		if err != nil {
			return nil, err
		}
		codes[code] = struct{}{}
	}
	return codes, nil
}
