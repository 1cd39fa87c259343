// Package httpx builds the outbound HTTP clients shared by the gateway and the request client.
package httpx

import (
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const UserAgent = "dramastream/1.0"

// NewClient returns a traced client with the given overall timeout.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: NewTransport(),
	}
}

// NewTransport clones the default transport with bounded dial times and wraps it for tracing.
func NewTransport() http.RoundTripper {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	dialer := &net.Dialer{Timeout: 8 * time.Second, KeepAlive: 30 * time.Second}
	transport.DialContext = dialer.DialContext
	transport.MaxIdleConnsPerHost = 16
	return otelhttp.NewTransport(transport)
}
