package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/api/googleapi"
)

// Kind classifies a failed remote call.
type Kind int

const (
	Unknown Kind = iota
	Transient
	Permanent
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// TransientCodes are the HTTP status codes worth retrying.
var TransientCodes = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

var transientMessages = []string{
	"rate limit",
	"ratelimitexceeded",
	"backend error",
	"backenderror",
	"internal error",
	"service unavailable",
	"service is currently unavailable",
}

// Error attaches an explicit classification to an error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%v: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("%v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// MarkTransient classifies err as transient.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: Transient, Err: err}
}

// MarkPermanent classifies err as permanent.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: Permanent, Err: err}
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%v failed after %v attempts (%v)", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Classify maps an error to Transient, Permanent or Unknown. HTTP status codes from the Google
// API client take precedence over message matching.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}

	var classified *Error
	if errors.As(err, &classified) && classified.Kind != Unknown {
		return classified.Kind
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Permanent
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if TransientCodes[apiErr.Code] {
			return Transient
		}

		return Permanent
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return Transient
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}

	return Unknown
}

// StatusCode returns the HTTP status code of a Google API error, or 0.
func StatusCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}

	return 0
}
