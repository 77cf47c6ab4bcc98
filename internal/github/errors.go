package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError represents a non-2xx response from the GitHub REST API.
type APIError struct {
	// StatusCode is the HTTP response status code.
	StatusCode int

	// Message is the top-level error description from GitHub.
	Message string

	// DocumentationURL points to the relevant API documentation.
	DocumentationURL string

	// Header holds the response headers; the rate-limit wrapper reads
	// X-RateLimit-Remaining and X-RateLimit-Reset from it.
	Header http.Header
}

func (err *APIError) Error() string {
	return fmt.Sprintf("github: HTTP %d: %s", err.StatusCode, err.Message)
}

// IsNotFound reports whether err is a GitHub API 404 Not Found response.
func IsNotFound(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == http.StatusNotFound
}

// IsRateLimited reports whether err is a rate-limit rejection: a 403 or
// 429 with no remaining quota, or whose message says so.
func IsRateLimited(err error) bool {
	var apiError *APIError
	if !errors.As(err, &apiError) {
		return false
	}
	if info, perr := ParseRateLimit(apiError.Header, apiError.StatusCode); perr == nil && info.Exhausted() {
		return true
	}
	return apiError.StatusCode == http.StatusTooManyRequests ||
		(apiError.StatusCode == http.StatusForbidden && isRateLimitMessage(apiError.Message))
}

func isRateLimitMessage(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "abuse detection")
}

func parseAPIError(statusCode int, body []byte, header http.Header) *APIError {
	apiError := &APIError{StatusCode: statusCode, Header: header}

	var wireError struct {
		Message          string `json:"message"`
		DocumentationURL string `json:"documentation_url"`
	}
	if json.Unmarshal(body, &wireError) == nil && wireError.Message != "" {
		apiError.Message = wireError.Message
		apiError.DocumentationURL = wireError.DocumentationURL
	} else {
		apiError.Message = strings.TrimSpace(string(body))
	}
	return apiError
}
