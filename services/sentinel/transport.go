// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sentinel

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/AleutianAI/SentinelTower/pkg/alert"
)

// Request is one delivery attempt.
type Request struct {
	URL     string
	Headers map[string]string
	Body    *alert.Event
}

// Response is the tower's answer to one attempt. Body is the zero value
// when the tower did not answer with the JSON envelope.
type Response struct {
	Status int
	Body   alert.ResponseBody
}

// Transport performs a single attempt. An error means no HTTP response
// was obtained (connection refused, timeout, TLS failure) and is treated
// as retryable.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

// Do calls f.
func (f TransportFunc) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 64 << 10

// HTTPTransport posts events as JSON over net/http.
type HTTPTransport struct {
	client  *http.Client
	timeout time.Duration
}

// HTTPTransportOption configures an HTTPTransport.
type HTTPTransportOption func(*HTTPTransport)

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) HTTPTransportOption {
	return func(t *HTTPTransport) { t.client = c }
}

// WithAttemptTimeout bounds each attempt. Zero disables the bound.
func WithAttemptTimeout(d time.Duration) HTTPTransportOption {
	return func(t *HTTPTransport) { t.timeout = d }
}

// NewHTTPTransport returns a transport with a 10s per-attempt timeout.
func NewHTTPTransport(opts ...HTTPTransportOption) *HTTPTransport {
	t := &HTTPTransport{
		client:  &http.Client{},
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TLSClient returns an http.Client that trusts only the PEM bundle at
// caFile. Towers on a LAN usually run self-signed certificates. An empty
// caFile yields a client using the system roots.
func TLSClient(caFile string) (*http.Client, error) {
	if caFile == "" {
		return &http.Client{}, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read tower CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", caFile)
	}
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
		},
	}, nil
}

// Do posts req.Body to req.URL.
func (t *HTTPTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	payload, err := json.Marshal(req.Body)
	if err != nil {
		return nil, fmt.Errorf("encode alert: %w", err)
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out := &Response{Status: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return out, nil
	}
	// Proxies and load balancers answer with HTML; the status decides then.
	_ = json.Unmarshal(data, &out.Body)
	return out, nil
}
