// Package classify maps collaborator/API failures onto the three outcomes
// the reconcilers act on: retry later, stop retrying, or treat as a no-op.
package classify

import (
	stderrors "errors"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// Domain errors
var (
	// ErrNoActiveEndpointConfig describes a Model with no matching entry in
	// its active EndpointConfig's spec.models. Model.CreateHandler treats that
	// case as a no-op and does not return this error; Classify maps it to
	// Ignore.
	ErrNoActiveEndpointConfig = stderrors.New("model has no active endpoint config entry")

	// ErrStorageShrink is returned when ModelStorage.Update is asked to
	// reduce capacity; the wrapper is left unchanged.
	ErrStorageShrink = stderrors.New("model storage capacity cannot be decreased")

	// ErrHostPathImmutable is returned when ModelStorage.Update is asked to
	// change the hostPath root after creation.
	ErrHostPathImmutable = stderrors.New("model storage path is immutable after creation")

	// ErrMalformedSpec is returned for spec shapes a handler cannot act on
	// (e.g. an unparsable storage size, or a handler called on an object that
	// does not exist).
	ErrMalformedSpec = stderrors.New("malformed spec")
)

// Outcome is the result of classifying a handler error.
type Outcome int

const (
	// Success means the handler completed; nothing further to do.
	Success Outcome = iota
	// Retryable means the caller should re-enqueue with backoff.
	Retryable
	// Permanent means retries should stop for this object revision and
	// status.state should transition to failed.
	Permanent
	// Ignore means the error reflects expected absence (e.g. a 404 on an
	// optional referent) and the handler should be treated as a no-op.
	Ignore
)

// Classify inspects err and returns the outcome the reconciler should act
// on. A nil error classifies as Success.
func Classify(err error) Outcome {
	if err == nil {
		return Success
	}

	switch {
	case apierrors.IsNotFound(err):
		return Ignore
	case apierrors.IsConflict(err):
		return Retryable
	case apierrors.IsTimeout(err), apierrors.IsServerTimeout(err), apierrors.IsTooManyRequests(err):
		return Retryable
	case apierrors.IsInternalError(err), apierrors.IsServiceUnavailable(err):
		return Retryable
	case apierrors.IsInvalid(err), apierrors.IsBadRequest(err), apierrors.IsForbidden(err):
		return Permanent
	case stderrors.Is(err, ErrMalformedSpec):
		return Permanent
	case stderrors.Is(err, ErrNoActiveEndpointConfig):
		return Ignore
	case stderrors.Is(err, ErrStorageShrink), stderrors.Is(err, ErrHostPathImmutable):
		return Ignore
	default:
		return Retryable
	}
}
