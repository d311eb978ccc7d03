package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
)

var (
	// ErrChallengeUnresolved is returned when an anti-bot challenge was
	// detected and no solver could get past it.
	ErrChallengeUnresolved = errors.New("challenge unresolved")
	// ErrSolverUnavailable is returned by a Solver that cannot be reached.
	ErrSolverUnavailable = errors.New("challenge solver unavailable")
)

// ChallengeDetector reports whether a response is an anti-bot interstitial.
type ChallengeDetector func(status int, header http.Header, body []byte) bool

var challengeMarkers = [][]byte{
	[]byte("Just a moment"),
	[]byte("cf-chl"),
	[]byte("challenge-platform"),
	[]byte("cf_chl_opt"),
	[]byte("Attention Required"),
}

// DetectChallenge recognises Cloudflare style interstitials: a 403 or 503
// whose body carries one of the known challenge markers.
func DetectChallenge(status int, _ http.Header, body []byte) bool {
	if status != http.StatusForbidden && status != http.StatusServiceUnavailable {
		return false
	}
	for _, m := range challengeMarkers {
		if bytes.Contains(body, m) {
			return true
		}
	}
	return false
}

// Solution is the response obtained by a Solver.
type Solution struct {
	URL       string
	Status    int
	Headers   http.Header
	Body      []byte
	Cookies   []*http.Cookie
	UserAgent string
}

// Solver fetches a URL through a challenge-solving service. Implementations
// return an error matching ErrSolverUnavailable when the service is down.
type Solver interface {
	Solve(ctx context.Context, url string, headers http.Header) (*Solution, error)
}
