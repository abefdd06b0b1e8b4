package client

import (
	"context"
	"net/http"
	"time"
)

// Option configures a Client.
type Option func(*options)

type options struct {
	adminToken string
	httpClient *http.Client
	timeout    time.Duration
	headers    map[string]string
}

func defaultOptions() *options {
	return &options{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		timeout: 30 * time.Second,
		headers: make(map[string]string),
	}
}

// WithAdminToken attaches a bearer JWT to every request, for callers
// exercising the admin-only subset of the surface (ls-tasks, ls-workers,
// bulk update-tasks, update-worker, delete-worker, delete-queue).
func WithAdminToken(token string) Option {
	return func(o *options) {
		o.adminToken = token
	}
}

// WithHTTPClientOpt allows providing a custom HTTP client.
func WithHTTPClientOpt(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithTimeout sets the default timeout for HTTP requests.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
		if o.httpClient != nil {
			o.httpClient.Timeout = d
		}
	}
}

// WithHeader adds a custom header to all requests.
func WithHeader(key, value string) Option {
	return func(o *options) {
		o.headers[key] = value
	}
}

// RequestEditorFn lets a caller layer extra header/signing logic onto
// every outgoing request.
type RequestEditorFn func(ctx context.Context, req *http.Request) error

func (o *options) applyHeaders() RequestEditorFn {
	return func(ctx context.Context, req *http.Request) error {
		if o.adminToken != "" {
			req.Header.Set("Authorization", "Bearer "+o.adminToken)
		}
		for k, v := range o.headers {
			req.Header.Set(k, v)
		}
		return nil
	}
}
