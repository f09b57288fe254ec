package transport

import (
	"net/http"
	"time"
)

// NewPooledHTTPClient returns the client used for streaming chat turns and
// connectivity lookups against one agent server. poolSize idle connections are
// kept for that host. Streaming turns pass a zero timeout so a long answer is
// bounded only by the turn's context; a slow server still fails fast on headers.
func NewPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}
