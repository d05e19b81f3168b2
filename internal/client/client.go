package client

import (
	"net/http"
	"time"
)

// Doer abstracts the HTTP client so tests can substitute transports without a
// network listener.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// DefaultDoer returns the HTTP client used when callers do not inject one.
// Per-call deadlines come from the request context; the transport itself
// carries no timeout so a context-free call cannot hang forever only because
// of a stuck dial.
func DefaultDoer() Doer {
	return &http.Client{Timeout: 30 * time.Second}
}

const maxResponseBytes = 1 << 20
