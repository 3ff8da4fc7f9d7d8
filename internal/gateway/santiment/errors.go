package santiment

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a transport failure.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindRateLimited Kind = "rate_limited"
	KindServerError Kind = "server_error"
	KindAuthFailure Kind = "auth_failure"
	KindNotFound    Kind = "not_found"
	KindBadRequest  Kind = "bad_request"
	KindExhausted   Kind = "exhausted"
)

// Error is the typed failure of one sub-request.
type Error struct {
	Kind       Kind
	Status     int
	RetryAfter time.Duration
	// Last is the kind of the final attempt when Kind is KindExhausted.
	Last     Kind
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("santiment ")
	b.WriteString(string(e.Kind))
	if e.Kind == KindExhausted {
		fmt.Fprintf(&b, " after %d attempts (last=%s)", e.Attempts, e.Last)
	}
	if e.Status > 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the attempt may be retried.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindTimeout, KindRateLimited, KindServerError:
		return true
	default:
		return false
	}
}

// KindOf returns the transport kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

func IsTransient(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Transient()
}

var retryInRe = regexp.MustCompile(`(?i)(?:try again|retry)\D{0,20}(\d+)\s*(?:s\b|sec|second)`)

// classifyMessage maps a GraphQL error message to a kind.
func classifyMessage(msg string) Kind {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "rate limit"):
		return KindRateLimited
	case strings.Contains(m, "unauthorized"), strings.Contains(m, "unauthenticated"),
		strings.Contains(m, "apikey"), strings.Contains(m, "api key"), strings.Contains(m, "forbidden"):
		return KindAuthFailure
	case strings.Contains(m, "not supported"), strings.Contains(m, "not found"),
		strings.Contains(m, "not exist"), strings.Contains(m, "not implemented"), strings.Contains(m, "mistyped"):
		return KindNotFound
	case strings.Contains(m, "timeout"), strings.Contains(m, "timed out"):
		return KindTimeout
	case strings.Contains(m, "internal server error"), strings.Contains(m, "unavailable"):
		return KindServerError
	default:
		return KindBadRequest
	}
}

func classifyStatus(status int) Kind {
	switch {
	case status == 429:
		return KindRateLimited
	case status == 401 || status == 403:
		return KindAuthFailure
	case status == 404:
		return KindNotFound
	case status == 408 || status == 504:
		return KindTimeout
	case status >= 500:
		return KindServerError
	case status >= 400:
		return KindBadRequest
	default:
		return ""
	}
}

// retryAfterFromMessage reads hints such as "Try again in 12 seconds".
func retryAfterFromMessage(msg string) time.Duration {
	m := retryInRe.FindStringSubmatch(msg)
	if len(m) != 2 {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(values []string, now time.Time) time.Duration {
	for _, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if n, err := strconv.ParseFloat(raw, 64); err == nil && n > 0 {
			return time.Duration(n * float64(time.Second))
		}
		if ts, err := http.ParseTime(raw); err == nil {
			if d := ts.Sub(now); d > 0 {
				return d
			}
		}
	}
	return 0
}
