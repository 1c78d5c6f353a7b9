package resilientop

import (
	"net/http"
	"strconv"
	"time"
)

// ParseRetryAfter parses an HTTP Retry-After header value per spec.md
// §4.6: either an integer number of seconds, or an HTTP-date. A value that
// parses as neither defaults to 1 second. An HTTP-date in the past yields
// a zero duration (retry immediately).
func ParseRetryAfter(value string) time.Duration {
	if value == "" {
		return time.Second
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			seconds = 0
		}
		return time.Duration(seconds) * time.Second
	}

	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
		return 0
	}

	return time.Second
}
