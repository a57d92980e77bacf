package httpclient

import "net/http"

// WithTransport overrides the round tripper used by every session.
func WithTransport(t http.RoundTripper) Options {
	return func(o *options) {
		o.transport = t
	}
}

// Sessions returns the number of pooled sessions.
func (c *Client) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
