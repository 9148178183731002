package reliability

import "time"

// StatusClass buckets upstream HTTP statuses for error reporting and metrics labels.
type StatusClass string

const (
	ClassOK          StatusClass = "ok"
	ClassAuth        StatusClass = "auth"
	ClassRateLimited StatusClass = "rate_limited"
	ClassClient      StatusClass = "client"
	ClassServer      StatusClass = "server"
	ClassUnknown     StatusClass = "unknown"
)

// ClassifyHTTPStatus maps a status code to a coarse class. Zero means no response was received.
func ClassifyHTTPStatus(code int) StatusClass {
	switch {
	case code == 0:
		return ClassUnknown
	case code >= 200 && code < 300:
		return ClassOK
	case code == 401 || code == 403:
		return ClassAuth
	case code == 429:
		return ClassRateLimited
	case code >= 400 && code < 500:
		return ClassClient
	case code >= 500:
		return ClassServer
	default:
		return ClassUnknown
	}
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
