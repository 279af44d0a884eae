package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Code classifies why a single meeting failed to ingest.
type Code string

const (
	CodeTimeout     Code = "timeout"
	CodeCancelled   Code = "cancelled"
	CodeFetchFailed Code = "fetch_failed"
	CodeParseError  Code = "parse_error"
	CodeStorage     Code = "storage_error"
	CodeInvariant   Code = "invariant"
)

// Ingest stages.
const (
	StageIndex = "index"
	StageFetch = "fetch"
	StageStore = "store"
)

// retryable lists the codes worth another ingestion pass.
var retryable = map[Code]bool{
	CodeTimeout:     true,
	CodeFetchFailed: true,
	CodeStorage:     true,
}

// IsRetryable reports whether a failure with the given code may succeed on a later run.
func IsRetryable(code Code) bool {
	return retryable[code]
}

// IngestError records a classified ingestion failure for one meeting.
type IngestError struct {
	Code  Code
	Stage string
	UID   string
	Cause error
}

func (e *IngestError) Error() string {
	if e.UID != "" {
		return fmt.Sprintf("%s: %s [%s]: %v", e.Code, e.Stage, e.UID, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Stage, e.Cause)
}

func (e *IngestError) Unwrap() error {
	return e.Cause
}

// Classify wraps err in an *IngestError with a code derived from its chain.
// An err that is already an *IngestError is returned unchanged.
func Classify(err error, stage, uid string) *IngestError {
	if err == nil {
		return nil
	}

	var ie *IngestError
	if errors.As(err, &ie) {
		return ie
	}

	e := &IngestError{Stage: stage, UID: uid, Cause: err}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		e.Code = CodeTimeout
	case errors.Is(err, context.Canceled):
		e.Code = CodeCancelled
	case errors.As(err, &netErr) && netErr.Timeout():
		e.Code = CodeTimeout
	case errors.Is(err, ErrInvalidState):
		e.Code = CodeInvariant
	case errors.Is(err, ErrUnavailable), errors.As(err, &netErr):
		e.Code = CodeFetchFailed
	case strings.Contains(strings.ToLower(err.Error()), "parse"):
		e.Code = CodeParseError
	case stage == StageFetch:
		e.Code = CodeFetchFailed
	default:
		e.Code = CodeStorage
	}
	return e
}

// CodeOf returns the classification code of err, or "" when err is not an *IngestError.
func CodeOf(err error) Code {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}
