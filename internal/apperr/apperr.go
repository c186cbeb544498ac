// Package apperr classifies failures from the remote platform into the
// small set of kinds the sync layer acts on. Classification only looks at
// structured data (status codes, OAuth error codes, error types).
package apperr

import (
	"errors"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimited
	KindTransient
	KindAuthExpired
	KindPermanentAuth
	KindConflict
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	case KindAuthExpired:
		return "auth_expired"
	case KindPermanentAuth:
		return "permanent_auth"
	case KindConflict:
		return "conflict"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

var (
	// ErrPermanentAuth means the account must be re-attached by its owner.
	ErrPermanentAuth = errors.New("account needs re-attach")
	// ErrMalformedResponse wraps bodies that could not be decoded.
	ErrMalformedResponse = errors.New("malformed response")
	ErrNotFound          = errors.New("not found")
	ErrSyncInProgress    = errors.New("sync already in progress")
)

// Classify maps err to a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, ErrPermanentAuth) {
		return KindPermanentAuth
	}

	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		if terminalRefresh(rErr) {
			return KindPermanentAuth
		}
		return KindTransient
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch {
		case gErr.Code == http.StatusTooManyRequests:
			return KindRateLimited
		case gErr.Code == http.StatusUnauthorized:
			return KindAuthExpired
		case gErr.Code == http.StatusConflict:
			return KindConflict
		case gErr.Code >= 500:
			return KindTransient
		case gErr.Code >= 400:
			return KindInvalid
		}
		return KindUnknown
	}

	if errors.Is(err, ErrMalformedResponse) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return KindTransient
	}
	return KindUnknown
}

// terminalRefresh reports whether the token endpoint rejected the refresh
// token itself rather than failing to answer.
func terminalRefresh(e *oauth2.RetrieveError) bool {
	status := 0
	if e.Response != nil {
		status = e.Response.StatusCode
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	case http.StatusBadRequest:
		return e.ErrorCode == "invalid_grant" || e.ErrorCode == "invalid_client"
	}
	return false
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.Response != nil {
		return rErr.Response.StatusCode
	}
	return 0
}

// IsRateLimited reports whether err is an HTTP 429.
func IsRateLimited(err error) bool {
	return StatusCode(err) == http.StatusTooManyRequests
}

// MaxRetryAfter caps a server-requested wait.
const MaxRetryAfter = time.Hour

// RetryAfter parses the Retry-After header carried by err. Numeric values
// are seconds, fractions allowed; HTTP-dates are converted relative to now.
// The result is clamped to [0, MaxRetryAfter].
func RetryAfter(err error, now time.Time) (time.Duration, bool) {
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) || gErr.Header == nil {
		return 0, false
	}
	return ParseRetryAfter(gErr.Header.Get("Retry-After"), now)
}

func ParseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if math.IsNaN(secs) {
			return 0, false
		}
		// Compare in seconds so huge values never overflow a Duration.
		switch {
		case secs <= 0:
			return 0, true
		case secs >= MaxRetryAfter.Seconds():
			return MaxRetryAfter, true
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	when, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	return min(max(0, when.Sub(now)), MaxRetryAfter), true
}
