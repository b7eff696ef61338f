// Package httpclient builds the HTTP client shared by the CTFtime fetcher and
// the webhook sender.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// UserAgent identifies the bot on outgoing requests.
const UserAgent = "ctfhooks/1.0"

// DefaultTimeout applies when New is given a non-positive timeout.
const DefaultTimeout = 20 * time.Second

// userAgentTransport sets the User-Agent unless the request already carries one.
type userAgentTransport struct {
	userAgent string
	next      http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if _, ok := req.Header["User-Agent"]; !ok {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.next.RoundTrip(req)
}

// New returns a client whose requests time out after timeout.
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &userAgentTransport{userAgent: UserAgent, next: tr},
	}
}
