// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package alert

// ErrorCode is the machine-readable reason in an error response.
type ErrorCode string

const (
	CodeInvalidAuth          ErrorCode = "INVALID_AUTH"
	CodeForbidden            ErrorCode = "FORBIDDEN"
	CodeInvalidPayload       ErrorCode = "INVALID_PAYLOAD"
	CodeMissingRequiredField ErrorCode = "MISSING_REQUIRED_FIELD"
	CodeInvalidFieldType     ErrorCode = "INVALID_FIELD_TYPE"
	CodeUnsupportedVersion   ErrorCode = "UNSUPPORTED_VERSION"
	CodeInternalError        ErrorCode = "INTERNAL_ERROR"
	CodeServiceUnavailable   ErrorCode = "SERVICE_UNAVAILABLE"
)

// Retryable reports whether a sentinel should retry after receiving code.
func (c ErrorCode) Retryable() bool {
	return c == CodeInternalError || c == CodeServiceUnavailable
}

// Result is the outcome of a successful ingestion.
type Result string

const (
	// ResultCreated means the event was stored by this request.
	ResultCreated Result = "created"
	// ResultDuplicate means the event_id was already stored.
	ResultDuplicate Result = "duplicate"
)

// ErrorDetail is the body of an error response.
type ErrorDetail struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id"`
}

// ResponseBody is the JSON body of every ingestion response. Exactly one
// of Result or Error is set.
type ResponseBody struct {
	Result    Result       `json:"result,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
}

// Success builds a 200 body.
func Success(result Result, requestID string) ResponseBody {
	return ResponseBody{Result: result, RequestID: requestID}
}

// Failure builds an error body.
func Failure(code ErrorCode, message, requestID string) ResponseBody {
	return ResponseBody{Error: &ErrorDetail{Code: code, Message: message, RequestID: requestID}}
}

// Accepted reports whether the body acknowledges the event as stored.
func (b ResponseBody) Accepted() bool {
	return b.Error == nil && (b.Result == ResultCreated || b.Result == ResultDuplicate)
}
