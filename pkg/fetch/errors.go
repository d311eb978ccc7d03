package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotImage is returned when a page URL answers with markup instead of an image.
var ErrNotImage = errors.New("response is not an image")

// ErrPageTooLarge is returned when a page body exceeds the fetcher's size limit.
var ErrPageTooLarge = errors.New("page too large")

// PageFetchError reports a page that could not be fetched after all attempts.
type PageFetchError struct {
	Index    int
	Attempts int
	Err      error
}

func (e *PageFetchError) Error() string {
	return fmt.Sprintf("page %d failed after %d attempt(s): %v", e.Index, e.Attempts, e.Err)
}

func (e *PageFetchError) Unwrap() error { return e.Err }

// StatusError is a non-success HTTP status.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	switch e.Code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func retryable(err error) bool {
	if errors.Is(err, ErrChallengeUnresolved) || errors.Is(err, ErrNotImage) || errors.Is(err, ErrPageTooLarge) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	// network failures, timeouts, truncated bodies
	return true
}
