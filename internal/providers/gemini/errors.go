package gemini

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"visitnote/internal/domain"
)

// credentialMarkers are fragments the service uses when a key is missing, invalid or not authorized for a model.
var credentialMarkers = []string{
	"requested entity was not found",
	"api key",
	"api_key_invalid",
	"permission_denied",
}

// IsCredentialFailure reports whether a status code and message describe an authorization problem.
func IsCredentialFailure(code int, message string) bool {
	if code == 401 || code == 403 || code == 404 {
		return true
	}
	lower := strings.ToLower(message)
	for _, marker := range credentialMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// mapStatus converts a status and message into the domain taxonomy.
func mapStatus(code int, message string) error {
	status := &domain.StatusError{Code: code, Message: message}
	switch {
	case IsCredentialFailure(code, message):
		return fmt.Errorf("%w: %w", domain.ErrCredential, status)
	case code == 429 || code == 503:
		return fmt.Errorf("%w: %w", domain.ErrRetryableService, status)
	default:
		return status
	}
}

func mapAPIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return mapStatus(apiErr.Code, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return mapStatus(apiErrPtr.Code, apiErrPtr.Message)
	}
	return err
}
