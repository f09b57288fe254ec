package transport

import (
	"net/http"
	"testing"
	"time"
)

func TestPooledHTTPClient(t *testing.T) {
	c := NewPooledHTTPClient(4, 0)
	if c.Timeout != 0 {
		t.Fatalf("streaming client should not carry an overall timeout, got %s", c.Timeout)
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("unexpected transport %T", c.Transport)
	}
	if tr.MaxIdleConnsPerHost != 4 || tr.ResponseHeaderTimeout == 0 || tr.Proxy == nil {
		t.Fatalf("unexpected transport settings %+v", tr)
	}

	if c := NewPooledHTTPClient(2, 30*time.Second); c.Timeout != 30*time.Second {
		t.Fatalf("lookup client should keep its timeout, got %s", c.Timeout)
	}
}
