package feed

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies an upstream failure.
type ErrorKind string

const (
	// KindTransient covers 5xx responses, timeouts and network failures.
	KindTransient ErrorKind = "transient"
	// KindSchema is an HTTP 400 caused by a query shape the feed rejects.
	KindSchema ErrorKind = "schema"
	// KindFatal is any other non-2xx response.
	KindFatal ErrorKind = "fatal"
)

// UpstreamError carries status/body for failed feed requests.
type UpstreamError struct {
	Kind   ErrorKind
	Status int
	Body   string
	URL    string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("upstream %s error: %s: %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("upstream %s error: %s status=%d body=%s", e.Kind, e.URL, e.Status, snippet(e.Body, 500))
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// KindOf returns the kind of an *UpstreamError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return ""
}

// StatusOf returns the HTTP status of an *UpstreamError in err's chain, or 0.
func StatusOf(err error) int {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Status
	}
	return 0
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == 400:
		return KindSchema
	case status >= 500:
		return KindTransient
	default:
		return KindFatal
	}
}

func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
