// Package validation provides input validation for the operations API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (64KB)
const MaxRequestSize = 64 << 10

// MaxReceivers bounds the accepted-receiver list of one channel.
const MaxReceivers = 1024

// MaxReplicators bounds the replicator set of one drive.
const MaxReplicators = 256

// keyRegex matches a 32-byte key in hex, with or without 0x.
var keyRegex = regexp.MustCompile(`^(0x)?[a-fA-F0-9]{64}$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidKey checks if a string is a hex-encoded 32-byte key or id.
func IsValidKey(s string) bool {
	return keyRegex.MatchString(strings.TrimSpace(s))
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidKey checks that a field holds a hex-encoded 32-byte key.
func ValidKey(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidKey(value) {
			return &ValidationError{Field: field, Message: "must be 32 bytes of hex (0x + 64 hex chars)"}
		}
		return nil
	}
}

// ValidKeys checks every element of a key list and bounds its length.
func ValidKeys(field string, values []string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(values) > max {
			return &ValidationError{Field: field, Message: "too many entries"}
		}
		for _, v := range values {
			if !IsValidKey(v) {
				return &ValidationError{Field: field, Message: "must contain only 32-byte hex keys"}
			}
		}
		return nil
	}
}

// KeyParamMiddleware validates the named URL parameters as 32-byte hex keys.
// Parameters absent from the route are ignored.
func KeyParamMiddleware(params ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, p := range params {
			v := c.Param(p)
			if v != "" && !IsValidKey(v) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_" + p,
					"message": p + " must be 32 bytes of hex (0x + 64 hex chars)",
				})
				return
			}
		}
		c.Next()
	}
}
