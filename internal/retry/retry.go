// Package retry classifies agent-invocation failures and computes backoff
// delays. Only failures that look like infrastructure problems (crashed
// agent, network blip, rate limiting, server error) are worth retrying;
// everything else is a real failure and retrying it would only mask it.
package retry

import (
	"math/rand"
	"regexp"
	"strings"
	"time"
)

// Class is the classification of an error string.
type Class int

const (
	// ClassPermanent means the failure should not be retried.
	ClassPermanent Class = iota
	// ClassMalformedOutput means the agent emitted truncated or invalid JSON,
	// typically because it crashed mid-stream.
	ClassMalformedOutput
	// ClassNetwork covers connection resets, timeouts, and refused connections.
	ClassNetwork
	// ClassRateLimit covers HTTP 429/503, rate-limit, and overload responses.
	ClassRateLimit
	// ClassServerError covers HTTP 500 and internal-server errors.
	ClassServerError
)

// String returns a short tag for the class, used in notes and history rows.
func (c Class) String() string {
	switch c {
	case ClassMalformedOutput:
		return "malformed_output"
	case ClassNetwork:
		return "network"
	case ClassRateLimit:
		return "rate_limit"
	case ClassServerError:
		return "server_error"
	default:
		return "permanent"
	}
}

// Transient reports whether the class is worth retrying.
func (c Class) Transient() bool {
	return c != ClassPermanent
}

// rule pairs a classification with the pattern that selects it. Rules are
// checked in order; the first match wins.
type rule struct {
	class Class
	re    *regexp.Regexp
}

var rules = []rule{
	{ClassMalformedOutput, regexp.MustCompile(`(?i)unexpected end of (json|input)|json parse error|malformed json|invalid json|unterminated string`)},
	{ClassNetwork, regexp.MustCompile(`(?i)econnreset|etimedout|econnrefused|enotfound|epipe|socket hang up|connection (reset|refused|closed)|network error|fetch failed|request timed? ?out`)},
	{ClassRateLimit, regexp.MustCompile(`(?i)rate.?limit|too many requests|overloaded?|\b429\b|\b503\b|service unavailable`)},
	{ClassServerError, regexp.MustCompile(`(?i)internal[ _-]?(server[ _-]?)?error|\b500\b`)},
}

// Classify matches an error string against the rule table and returns the
// first matching class. Empty or whitespace-only text is never transient.
func Classify(errText string) Class {
	if strings.TrimSpace(errText) == "" {
		return ClassPermanent
	}
	for _, r := range rules {
		if r.re.MatchString(errText) {
			return r.class
		}
	}
	return ClassPermanent
}

// IsTransient reports whether an error string matches a transient pattern.
func IsTransient(errText string) bool {
	return Classify(errText).Transient()
}

// Backoff defaults.
const (
	DefaultBase        = 1000 * time.Millisecond
	DefaultCap         = 30000 * time.Millisecond
	DefaultMaxAttempts = 3
)

// BackoffDelay computes the delay before retry number attempt (zero-indexed):
// min(base·2^attempt, cap) plus uniform jitter in [0, 25%] of that value.
// The jitter avoids synchronized retries when multiple orchestrators run
// against shared infrastructure.
func BackoffDelay(attempt int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBase
	}
	if cap <= 0 {
		cap = DefaultCap
	}
	if attempt < 0 {
		attempt = 0
	}

	d := cap
	// Shifting past 62 bits overflows; anything that far out is capped anyway.
	if attempt < 62 {
		if shifted := base << uint(attempt); shifted > 0 && shifted < cap {
			d = shifted
		}
	}

	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}
