// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sentinel delivers disconnect alerts from a sentinel to its
// tower.
//
// Client.Send is the whole engine: it reads the pairing token, refuses to
// touch the network without one, posts the alert, and retries transient
// failures with capped exponential backoff until the tower acknowledges
// the event or the retry budget is spent. Retries are safe because the
// tower deduplicates on event_id.
package sentinel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/AleutianAI/SentinelTower/pkg/alert"
	"github.com/AleutianAI/SentinelTower/pkg/credential"
	"github.com/AleutianAI/SentinelTower/pkg/logging"
)

// SendStatus is the terminal outcome of Send.
type SendStatus string

const (
	// StatusSent means the tower acknowledged the event (created or
	// duplicate).
	StatusSent SendStatus = "sent"
	// StatusFailed means delivery stopped without an acknowledgement.
	StatusFailed SendStatus = "failed"
)

// BlockCode explains why Send made no attempt at all.
type BlockCode string

const (
	BlockTokenMissing     BlockCode = "AUTH_TOKEN_MISSING"
	BlockTokenUnavailable BlockCode = "AUTH_TOKEN_UNAVAILABLE"
	BlockTokenReadFailed  BlockCode = "AUTH_TOKEN_READ_FAILED"
)

// BlockReason is set when the credential gate stopped the send.
type BlockReason struct {
	Code    BlockCode
	Message string
	Err     error
}

// SendResult describes what Send did.
type SendResult struct {
	Status       SendStatus
	Attempts     int
	LastResponse *Response
	LastError    error
	BlockReason  *BlockReason
	// Delays are the backoff waits actually taken, in order.
	Delays []time.Duration
}

// Sent reports whether the tower acknowledged the event.
func (r SendResult) Sent() bool {
	return r.Status == StatusSent
}

// TokenSource yields the pairing token. credential.Store implements it.
type TokenSource interface {
	GetToken(ctx context.Context) (token string, found bool, err error)
}

// Option configures a Client.
type Option func(*Client)

// WithSleeper replaces ContextSleep. Tests use it to skip real waits.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// WithLogger sets the client logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client sends alerts to one tower endpoint.
//
// # Thread Safety
//
// Safe for concurrent use; each Send keeps its state on the stack.
type Client struct {
	endpoint  string
	tokens    TokenSource
	transport Transport
	policy    RetryPolicy
	sleep     Sleeper
	logger    *logging.Logger
}

// NewClient returns a Client posting to endpoint.
//
// # Inputs
//
//   - endpoint: full ingestion URL, e.g. https://192.168.1.20:8443/api/alerts
//   - tokens: source of the pairing token
//   - transport: performs each attempt
//   - policy: must pass Validate
func NewClient(endpoint string, tokens TokenSource, transport Transport, policy RetryPolicy, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if tokens == nil || transport == nil {
		return nil, errors.New("token source and transport are required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		endpoint:  endpoint,
		tokens:    tokens,
		transport: transport,
		policy:    policy,
		sleep:     ContextSleep,
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "delivery")
	return c, nil
}

// Send delivers event, retrying transient failures.
//
// The pairing token is read once, before any network I/O. Without a
// usable token the result is StatusFailed with zero attempts and a
// BlockReason. Otherwise:
//
//   - HTTP 200 with result created or duplicate ends in StatusSent.
//   - A transport error, HTTP 500/503, or an INTERNAL_ERROR or
//     SERVICE_UNAVAILABLE body is retried after the current backoff.
//   - Anything else (400, 401, 403, ...) ends in StatusFailed at once.
//
// Cancelling ctx during a backoff wait ends the send with StatusFailed
// and LastError set to the context error.
func (c *Client) Send(ctx context.Context, event *alert.Event) SendResult {
	token, block := c.readToken(ctx)
	if block != nil {
		c.logger.Warn("alert not sent", "event_id", event.EventID, "block_code", string(block.Code))
		return SendResult{Status: StatusFailed, BlockReason: block}
	}

	req := &Request{
		URL: c.endpoint,
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + token,
		},
		Body: event,
	}
	log := c.logger.With("event_id", event.EventID, "token_fingerprint", credential.Fingerprint(token))

	var result SendResult
	delay := c.policy.FirstDelay()

	for result.Attempts < c.policy.MaxRetries {
		result.Attempts++

		resp, err := c.transport.Do(ctx, req)
		result.LastResponse = resp
		result.LastError = err

		switch classify(resp, err) {
		case outcomeSent:
			result.Status = StatusSent
			log.Info("alert delivered", "attempts", result.Attempts, "result", string(resp.Body.Result))
			return result
		case outcomeTerminal:
			result.Status = StatusFailed
			log.Error("alert rejected", "attempts", result.Attempts, "status", resp.Status, "code", errorCode(resp))
			return result
		}

		if result.Attempts >= c.policy.MaxRetries {
			break
		}
		log.Warn("delivery attempt failed, retrying",
			"attempt", result.Attempts,
			"max_attempts", c.policy.MaxRetries,
			"backoff_ms", delay.Milliseconds(),
			"error", describe(resp, err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			result.Status = StatusFailed
			result.LastError = err
			log.Warn("delivery cancelled", "attempts", result.Attempts)
			return result
		}
		result.Delays = append(result.Delays, delay)
		delay = c.policy.NextDelay(delay)
	}

	result.Status = StatusFailed
	log.Error("alert delivery exhausted retries", "attempts", result.Attempts, "error", describe(result.LastResponse, result.LastError))
	return result
}

func (c *Client) readToken(ctx context.Context) (string, *BlockReason) {
	token, found, err := c.tokens.GetToken(ctx)
	if err != nil {
		if se, ok := credential.AsStoreError(err); ok && se.Code == credential.CodeUnavailable {
			return "", &BlockReason{Code: BlockTokenUnavailable, Message: "Secure storage unavailable", Err: err}
		}
		return "", &BlockReason{Code: BlockTokenReadFailed, Message: "Failed to read authentication token", Err: err}
	}
	if !found {
		return "", &BlockReason{Code: BlockTokenMissing, Message: "Sentinel is not paired with a tower"}
	}
	return token, nil
}

type outcome int

const (
	outcomeRetry outcome = iota
	outcomeSent
	outcomeTerminal
)

func classify(resp *Response, err error) outcome {
	if err != nil || resp == nil {
		return outcomeRetry
	}
	if resp.Status == http.StatusOK && resp.Body.Accepted() {
		return outcomeSent
	}
	if resp.Status == http.StatusInternalServerError || resp.Status == http.StatusServiceUnavailable {
		return outcomeRetry
	}
	if resp.Body.Error != nil && resp.Body.Error.Code.Retryable() {
		return outcomeRetry
	}
	return outcomeTerminal
}

func errorCode(resp *Response) string {
	if resp == nil || resp.Body.Error == nil {
		return ""
	}
	return string(resp.Body.Error.Code)
}

func describe(resp *Response, err error) string {
	if err != nil {
		return err.Error()
	}
	if resp == nil {
		return "no response"
	}
	if code := errorCode(resp); code != "" {
		return fmt.Sprintf("status %d (%s)", resp.Status, code)
	}
	return fmt.Sprintf("status %d", resp.Status)
}
