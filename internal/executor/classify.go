package executor

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"callpipe/internal/services"
)

// Kind is the classified outcome of an executed call.
type Kind int

const (
	KindOK Kind = iota
	KindNotFound
	KindTransientFailure
	KindPermanentFailure
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindNotFound:
		return "not_found"
	case KindTransientFailure:
		return "transient_failure"
	case KindPermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by an operation onto a failure kind.
// Unrecognized errors are permanent so they are never retried blindly.
func Classify(err error) Kind {
	if err == nil {
		return KindOK
	}
	if errors.Is(err, services.ErrNotFound) {
		return KindNotFound
	}
	if code := services.StatusCode(err); code != 0 {
		switch {
		case code == http.StatusNotFound:
			return KindNotFound
		case code == http.StatusRequestTimeout,
			code == http.StatusTooManyRequests,
			code >= http.StatusInternalServerError:
			return KindTransientFailure
		default:
			return KindPermanentFailure
		}
	}
	if errors.Is(err, services.ErrAuth) || errors.Is(err, services.ErrPermanent) || errors.Is(err, services.ErrValidation) {
		return KindPermanentFailure
	}
	if errors.Is(err, services.ErrTransient) || errors.Is(err, services.ErrTimeout) {
		return KindTransientFailure
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientFailure
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return KindTransientFailure
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransientFailure
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return KindTransientFailure
	}
	return KindPermanentFailure
}

func retryAfter(err error) (time.Duration, bool) {
	var statusErr *services.HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
		return statusErr.RetryAfter, true
	}
	return 0, false
}
