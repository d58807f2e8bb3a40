package practitest

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse is returned when a response envelope lacks the fields
// an operation depends on, e.g. a create response without a record id.
var ErrMalformedResponse = errors.New("malformed PractiTest response")

// APIError is returned for every non-2xx response. The body is kept verbatim;
// the service's error document is not interpreted.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("PractiTest API error %d: %s", e.StatusCode, e.Body)
}

// VerificationError is returned when the server certificate is rejected by
// the trust policy.
type VerificationError struct {
	Code VerifyCode
	Err  error
}

func (e *VerificationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("certificate verification failed: %s", e.Code)
	}
	return fmt.Sprintf("certificate verification failed (%s): %v", e.Code, e.Err)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}
