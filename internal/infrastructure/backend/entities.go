package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/medtrack/field-gateway/internal/core/ports"
)

var _ ports.EntityBackend = (*Client)(nil)

// Forward relays a generic entity call. 2xx and ordinary 4xx replies are passed
// through verbatim; 401, 403 and 5xx become domain errors so the gateway's
// session policy applies uniformly.
func (c *Client) Forward(ctx context.Context, token, method, path string, query url.Values, body []byte) (*ports.ProxyResponse, error) {
	status, header, data, err := c.call(ctx, method, path, token, query, body)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status >= 500:
		return nil, mapStatus(status, data)
	}
	ct := header.Get("Content-Type")
	if ct == "" && len(data) > 0 {
		ct = "application/json"
	}
	return &ports.ProxyResponse{StatusCode: status, ContentType: ct, Body: data}, nil
}

var _ ports.Pinger = (*Client)(nil)
