package gateway

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// TransportOptions configures the outbound transport.
type TransportOptions struct {
	// VerifyTLS false accepts any upstream certificate.
	VerifyTLS             bool
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	// RetryAttempts is the number of extra attempts for requests that are
	// safe to repeat. Zero disables retries.
	RetryAttempts int
}

// DefaultTransportOptions verifies certificates and retries twice.
func DefaultTransportOptions() TransportOptions {
	return TransportOptions{
		VerifyTLS:             true,
		DialTimeout:           10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		RetryAttempts:         2,
	}
}

// Transport is the round tripper used toward every backend. It applies the
// TLS policy and timeouts, and retries bodiless GET, HEAD and OPTIONS
// requests that fail before a response arrives.
type Transport struct {
	base       http.RoundTripper
	retries    int
	newBackOff func() backoff.BackOff
}

// NewTransport builds a Transport from opts.
func NewTransport(opts TransportOptions) *Transport {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.DialContext = (&net.Dialer{
		Timeout:   opts.DialTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	base.TLSHandshakeTimeout = opts.TLSHandshakeTimeout
	base.ResponseHeaderTimeout = opts.ResponseHeaderTimeout
	base.IdleConnTimeout = opts.IdleConnTimeout
	base.TLSClientConfig = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !opts.VerifyTLS, //nolint:gosec // explicit operator policy
	}

	return &Transport{
		base:       base,
		retries:    opts.RetryAttempts,
		newBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	return b
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.retries <= 0 || !retryable(req) {
		return t.base.RoundTrip(req)
	}

	var resp *http.Response
	op := func() error {
		r, err := t.base.RoundTrip(req)
		if err != nil {
			if req.Context().Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(t.newBackOff(), uint64(t.retries)), req.Context())
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return resp, nil
}

// CloseIdleConnections closes idle upstream connections.
func (t *Transport) CloseIdleConnections() {
	if c, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

// Client returns an http.Client using this transport.
func (t *Transport) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Timeout: timeout}
}

// retryable reports whether req can be sent again. A body is consumed by the
// first attempt, so only bodiless idempotent requests qualify.
func retryable(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
	default:
		return false
	}
	return req.Body == nil || req.Body == http.NoBody
}
