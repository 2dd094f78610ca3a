package ratelimit

import (
	"errors"
	"net/http"
	"strings"
)

// Doer is the http client surface the provider transports call.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client guards every request with an AdaptivePolicy keyed by request host.
// A throttled host fails fast without touching the network.
type Client struct {
	Next   Doer
	Policy *AdaptivePolicy
	// BucketFor optionally splits one host into several buckets.
	BucketFor func(req *http.Request) string
}

func NewClient(next Doer, policy *AdaptivePolicy) *Client {
	if next == nil {
		next = http.DefaultClient
	}
	return &Client{Next: next, Policy: policy}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	key := c.keyFor(req)
	ctx := req.Context()
	if err := c.Policy.BeforeCall(ctx, key); err != nil {
		var throttled ThrottledError
		if errors.As(err, &throttled) {
			return nil, throttled.AsFetchError()
		}
		return nil, err
	}

	res, err := c.Next.Do(req)
	if err != nil {
		return nil, err
	}
	meta := ResponseMeta{
		StatusCode: res.StatusCode,
		Headers:    flatten(res.Header),
		Metadata:   map[string]any{"path": req.URL.Path},
	}
	if afterErr := c.Policy.AfterCall(ctx, key, meta); afterErr != nil {
		_ = res.Body.Close()
		return nil, afterErr
	}
	return res, nil
}

func (c *Client) keyFor(req *http.Request) Key {
	key := Key{}
	if req != nil && req.URL != nil {
		key.Host = req.URL.Hostname()
	}
	if c.BucketFor != nil && req != nil {
		key.Bucket = c.BucketFor(req)
	}
	return key
}

func flatten(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) == 0 {
			continue
		}
		out[strings.ToLower(key)] = values[0]
	}
	return out
}
