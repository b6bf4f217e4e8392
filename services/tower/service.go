// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tower ingests disconnect alerts posted by paired sentinels.
//
// # Ingestion Pipeline
//
// Service.Handle runs a fixed sequence. Each stage either halts with a
// terminal response or passes to the next:
//
//	Authorization: Bearer <token>   401 INVALID_AUTH
//	   │
//	   ▼
//	AuthVerifier.Verify              401 INVALID_AUTH / 503
//	   │
//	   ▼
//	JSON object                      400 INVALID_PAYLOAD
//	   │
//	   ▼
//	required fields present          400 MISSING_REQUIRED_FIELD
//	field types                      400 INVALID_FIELD_TYPE
//	device_meta present, typed       400 MISSING_REQUIRED_FIELD / INVALID_FIELD_TYPE
//	formats                          400 INVALID_PAYLOAD / UNSUPPORTED_VERSION
//	trigger_reason                   400 INVALID_PAYLOAD
//	   │
//	   ▼
//	subject matches payload          403 FORBIDDEN
//	   │
//	   ▼
//	Repository.SaveEvent             200 created | duplicate / 503
//
// One request id is drawn per call and appears in every response body.
// Panics inside the pipeline become 500 INTERNAL_ERROR without detail.
package tower

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/SentinelTower/pkg/alert"
	"github.com/AleutianAI/SentinelTower/pkg/logging"
)

// MaxBodyBytes bounds an ingestion request body.
const MaxBodyBytes = 64 << 10

const tracerName = "github.com/AleutianAI/SentinelTower/services/tower"

const (
	msgInvalidAuth = "Missing or invalid authorization token"
	msgForbidden   = "Token subject does not match payload"
	msgInvalidJSON = "Invalid JSON body"
	msgTooLarge    = "Request body too large"
	msgInternal    = "Internal server error"
	msgUnavailable = "Service temporarily unavailable"
)

// Request is one inbound ingestion call.
type Request struct {
	// Authorization is the raw header value.
	Authorization string
	// Body is the raw request body.
	Body []byte
}

// Response is the status and JSON body to send back.
type Response struct {
	Status int
	Body   alert.ResponseBody
}

// Notifier is told about every newly created record.
type Notifier interface {
	Publish(rec *alert.Record)
}

// Option configures a Service.
type Option func(*Service)

// WithRequestIDFactory replaces alert.NewRequestID.
func WithRequestIDFactory(f alert.RequestIDFactory) Option {
	return func(s *Service) { s.newRequestID = f }
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer replaces the global otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithNotifier publishes created records, e.g. to the live feed.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// Service is the ingestion endpoint's core, independent of HTTP framing.
//
// # Thread Safety
//
// Safe for concurrent use. The Repository is the only shared state.
type Service struct {
	repo         Repository
	verifier     AuthVerifier
	newRequestID alert.RequestIDFactory
	now          func() time.Time
	logger       *logging.Logger
	metrics      *Metrics
	tracer       trace.Tracer
	notifier     Notifier
}

// NewService returns a Service storing into repo and authenticating with
// verifier.
func NewService(repo Repository, verifier AuthVerifier, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is required")
	}
	if verifier == nil {
		return nil, errors.New("auth verifier is required")
	}
	s := &Service{
		repo:         repo,
		verifier:     verifier,
		newRequestID: alert.NewRequestID,
		now:          time.Now,
		logger:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	s.logger = s.logger.With("component", "ingest")
	return s, nil
}

// Handle runs the ingestion pipeline for req.
func (s *Service) Handle(ctx context.Context, req Request) (resp Response) {
	start := s.now()
	var requestID string

	ctx, span := s.tracer.Start(ctx, "tower.ingest")
	defer func() {
		if p := recover(); p != nil {
			if requestID == "" {
				requestID = alert.NewRequestID()
			}
			s.logger.Error("ingestion panicked", "request_id", requestID, "panic", fmt.Sprint(p))
			span.SetStatus(codes.Error, "panic")
			resp = failure(http.StatusInternalServerError, alert.CodeInternalError, msgInternal, requestID)
		}
		span.SetAttributes(
			attribute.String("request_id", requestID),
			attribute.Int("http.response.status_code", resp.Status),
		)
		if resp.Body.Error != nil {
			span.SetAttributes(attribute.String("error.code", string(resp.Body.Error.Code)))
		} else {
			span.SetAttributes(attribute.String("alert.result", string(resp.Body.Result)))
		}
		span.End()
		s.metrics.ObserveIngest(resp, s.now().Sub(start))
	}()

	requestID = s.newRequestID()
	return s.handle(ctx, req, requestID)
}

func (s *Service) handle(ctx context.Context, req Request, requestID string) Response {
	log := s.logger.With("request_id", requestID)

	token, ok := extractBearerToken(req.Authorization)
	if !ok {
		log.Warn("alert rejected", "code", string(alert.CodeInvalidAuth), "reason", "missing bearer token")
		return failure(http.StatusUnauthorized, alert.CodeInvalidAuth, msgInvalidAuth, requestID)
	}
	subject, err := s.verifier.Verify(ctx, token)
	if err != nil {
		return s.upstreamFailure(log, "verify token", err, requestID)
	}
	if subject == nil {
		log.Warn("alert rejected", "code", string(alert.CodeInvalidAuth), "reason", "unknown token")
		return failure(http.StatusUnauthorized, alert.CodeInvalidAuth, msgInvalidAuth, requestID)
	}
	log = log.With("sentinel_id", subject.SentinelID)

	if len(req.Body) > MaxBodyBytes {
		return s.badRequest(log, &rejection{alert.CodeInvalidPayload, msgTooLarge}, requestID)
	}
	raw, err := decodeObject(req.Body)
	if err != nil {
		return s.badRequest(log, &rejection{alert.CodeInvalidPayload, msgInvalidJSON}, requestID)
	}
	event, rej := validatePayload(raw)
	if rej != nil {
		return s.badRequest(log, rej, requestID)
	}

	if event.SentinelID != subject.SentinelID || event.TowerID != subject.TowerID {
		log.Warn("alert rejected", "code", string(alert.CodeForbidden), "payload_sentinel_id", event.SentinelID, "payload_tower_id", event.TowerID)
		return failure(http.StatusForbidden, alert.CodeForbidden, msgForbidden, requestID)
	}

	rec := alert.NewRecord(event, requestID, s.now())
	outcome, err := s.repo.SaveEvent(ctx, rec)
	if err != nil {
		return s.upstreamFailure(log, "save alert", err, requestID)
	}

	var result alert.Result
	switch outcome {
	case SaveCreated:
		result = alert.ResultCreated
		if s.notifier != nil {
			s.notifier.Publish(rec)
		}
	case SaveDuplicate:
		result = alert.ResultDuplicate
	default:
		panic(fmt.Sprintf("repository returned unknown outcome %d", outcome))
	}
	log.Info("alert ingested", "event_id", event.EventID, "result", string(result))
	return Response{Status: http.StatusOK, Body: alert.Success(result, requestID)}
}

// Exists reports whether the tower holds eventID, for a sentinel checking
// on an alert it is unsure was delivered. It returns 200 or 404, or the
// same 401/500/503 as Handle. Unlike Handle it carries no body.
//
// Only the subject that delivered an event can see it: an event stored
// for another sentinel or tower answers 404, same as a missing one.
func (s *Service) Exists(ctx context.Context, authorization, eventID string) int {
	token, ok := extractBearerToken(authorization)
	if !ok {
		return http.StatusUnauthorized
	}
	subject, err := s.verifier.Verify(ctx, token)
	switch {
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case err != nil:
		s.logger.Error("verify token failed", "error", err.Error())
		return http.StatusInternalServerError
	case subject == nil:
		return http.StatusUnauthorized
	}
	rec, found, err := s.repo.Get(ctx, eventID)
	switch {
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case err != nil:
		s.logger.Error("lookup alert failed", "event_id", eventID, "error", err.Error())
		return http.StatusInternalServerError
	case !found:
		return http.StatusNotFound
	case rec.Event.SentinelID != subject.SentinelID || rec.Event.TowerID != subject.TowerID:
		s.logger.Warn("alert lookup outside subject", "event_id", eventID, "sentinel_id", subject.SentinelID)
		return http.StatusNotFound
	default:
		return http.StatusOK
	}
}

func (s *Service) badRequest(log *logging.Logger, rej *rejection, requestID string) Response {
	log.Warn("alert rejected", "code", string(rej.code), "reason", rej.message)
	return failure(http.StatusBadRequest, rej.code, rej.message, requestID)
}

// upstreamFailure maps collaborator errors. The cause is logged, never
// returned to the caller.
func (s *Service) upstreamFailure(log *logging.Logger, op string, err error, requestID string) Response {
	if errors.Is(err, ErrUnavailable) {
		log.Warn(op+" unavailable", "error", err.Error())
		return failure(http.StatusServiceUnavailable, alert.CodeServiceUnavailable, msgUnavailable, requestID)
	}
	log.Error(op+" failed", "error", err.Error())
	return failure(http.StatusInternalServerError, alert.CodeInternalError, msgInternal, requestID)
}

func failure(status int, code alert.ErrorCode, message, requestID string) Response {
	return Response{Status: status, Body: alert.Failure(code, message, requestID)}
}
