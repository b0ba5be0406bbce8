package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrMissingCredentials is returned by New when the account or token is empty.
	ErrMissingCredentials = errors.New("subdomain (or base URL), email and API token are required")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// APIError is a non-2xx response from the helpdesk API.
type APIError struct {
	StatusCode int
	Status     string
	Method     string
	URL        string

	// Body is the raw response text.
	Body []byte

	// Code is the API's short error code, e.g. "RecordInvalid".
	Code string

	// Description is the API's human readable message, if any.
	Description string

	// Details holds per-record validation errors (422) exactly as returned.
	Details map[string]any

	ErrorClass ErrorClass
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Description
	if msg == "" {
		msg = e.Code
	}
	if msg == "" {
		msg = truncate(string(e.Body), 200)
	}
	return fmt.Sprintf("helpdesk %s error: %s %s: %s: %s", e.ErrorClass, e.Method, e.URL, e.Status, msg)
}

// Retryable reports whether the request may succeed when repeated.
func (e *APIError) Retryable() bool {
	return shouldRetry(e.ErrorClass)
}

// newAPIError builds an APIError and decodes the standard error body
// {"error": ..., "description": ..., "details": {...}} when present.
func newAPIError(method, url string, resp *Response) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Status:     http.StatusText(resp.StatusCode),
		Method:     method,
		URL:        url,
		Body:       resp.Body,
		ErrorClass: classifyStatus(resp.StatusCode),
	}
	if apiErr.Status == "" {
		apiErr.Status = fmt.Sprintf("status %d", resp.StatusCode)
	}

	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return apiErr
	}

	switch v := doc["error"].(type) {
	case string:
		apiErr.Code = v
	case map[string]any:
		apiErr.Code, _ = v["title"].(string)
		apiErr.Description, _ = v["message"].(string)
	}
	if d, ok := doc["description"].(string); ok {
		apiErr.Description = d
	}
	apiErr.Details, _ = doc["details"].(map[string]any)

	return apiErr
}

// classifyStatus maps a failing status code to its error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	case status >= 400:
		return ErrorClassClient
	default:
		return ""
	}
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}

// ClassOf returns the error class carried by err, or "" if none.
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return ErrorClassNetwork
	}
	return ""
}

// NetworkError wraps a failure that produced no HTTP response.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("helpdesk network error: %s %s: %v", e.Method, e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
