package httputil

import (
	"net/http"
	"time"
)

// DefaultTimeout bounds a single request. Multi-decade daily extracts can
// run long on the upstream side, so this is generous.
const DefaultTimeout = 120 * time.Second

// NewClient returns an HTTP client with standard timeout configuration.
func NewClient() *http.Client {
	return &http.Client{
		Timeout: DefaultTimeout,
	}
}
