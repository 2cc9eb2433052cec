package validation

import (
	"fmt"
	"net/http"
	"strconv"

	"telemirror/internal/errors"
)

const (
	// Dead-letter listing page bounds.
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// ValidateSourceID checks that an identifier could plausibly name a
// source. Telegram identifiers are positive; zero and negatives only
// show up in malformed requests.
func ValidateSourceID(sourceID int64) error {
	if sourceID <= 0 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("source id must be positive, got %d", sourceID))
	}
	return nil
}

// ValidatePagination parses limit/offset query values and applies the
// page bounds. Empty strings fall back to defaults.
func ValidatePagination(rawLimit, rawOffset string) (limit, offset int, err error) {
	limit = DefaultPageLimit
	if rawLimit != "" {
		limit, err = strconv.Atoi(rawLimit)
		if err != nil {
			return 0, 0, errors.New(errors.ErrCodeInvalidInput, "limit must be an integer")
		}
	}
	if limit < 1 || limit > MaxPageLimit {
		return 0, 0, errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("limit must be between 1 and %d", MaxPageLimit))
	}

	if rawOffset != "" {
		offset, err = strconv.Atoi(rawOffset)
		if err != nil {
			return 0, 0, errors.New(errors.ErrCodeInvalidInput, "offset must be an integer")
		}
	}
	if offset < 0 {
		return 0, 0, errors.New(errors.ErrCodeInvalidInput, "offset cannot be negative")
	}

	return limit, offset, nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "invalid content length")
	}

	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}

	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}

	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}

	if timeoutSec > 3600 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}

	return nil
}

// ValidateConnectionPool validates database connection pool settings
func ValidateConnectionPool(maxOpen, maxIdle int) error {
	if maxOpen < 1 {
		return errors.New(errors.ErrCodeInvalidInput, "max open connections must be at least 1")
	}

	if maxOpen > 1000 {
		return errors.New(errors.ErrCodeInvalidInput, "max open connections too large (max 1000)")
	}

	if maxIdle < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "max idle connections cannot be negative")
	}

	if maxIdle > maxOpen {
		return errors.New(errors.ErrCodeInvalidInput, "max idle connections cannot exceed max open connections")
	}

	return nil
}
