package trombi

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// countingTransport fails every request and counts the attempts. Handy for
// asserting that an operation resolved locally without touching the
// network.
type countingTransport struct {
	calls atomic.Int64
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return nil, &dialError{}
}

// dialError stands in for a connection failure without opening sockets.
type dialError struct{}

func (*dialError) Error() string { return "dial tcp: connection refused" }

func newStubServer(t *testing.T, handler http.HandlerFunc) (*Server, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewServer(ts.URL), ts
}
