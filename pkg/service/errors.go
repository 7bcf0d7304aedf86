package service

import (
	"errors"
	"net/http"

	"github.com/dasmlab/transgate/pkg/retry"
)

// Kind classifies a failure surfaced by the service.
type Kind int

const (
	// KindUpstream is the catch-all for engine failures.
	KindUpstream Kind = iota
	// KindInvalidInput is a client mistake. Never retried.
	KindInvalidInput
	// KindTransientUpstream is a handshake/timeout failure that was not retried away.
	KindTransientUpstream
	// KindSecureChannel is an SSL failure (translate only).
	KindSecureChannel
	// KindRetryExhausted means every attempt failed transiently.
	KindRetryExhausted
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindTransientUpstream:
		return "transient_upstream"
	case KindSecureChannel:
		return "secure_channel"
	case KindRetryExhausted:
		return "retry_exhausted"
	default:
		return "upstream_error"
	}
}

// HTTPStatus maps the kind onto the status code returned to clients.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindTransientUpstream, KindSecureChannel:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// User-facing messages.
const (
	MsgNoText                 = "No text provided"
	MsgTranslateTimeout       = "Connection timeout - Google Translate servers may be slow or blocking requests. Please try again."
	MsgTranslateSSL           = "SSL connection error. Please check your internet connection."
	MsgTranslateExhausted     = "Translation failed after multiple attempts"
	MsgDetectTimeout          = "Connection timeout during language detection"
	MsgDetectExhausted        = "Detection failed after multiple attempts"
	MsgTranslatorUnconfigured = "Translator not configured"
)

// Error is a classified service failure. Message is safe to show to clients.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, KindUpstream for unclassified errors.
func KindOf(err error) Kind {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return KindUpstream
}

func invalidInput(op, message string) *Error {
	return &Error{Kind: KindInvalidInput, Op: op, Message: message}
}

// classifyTranslateError applies the translate failure taxonomy. Order matters:
// a "TLS handshake timeout" is transient, not an SSL error.
func classifyTranslateError(err error) *Error {
	switch {
	case errors.Is(err, retry.ErrExhausted):
		return &Error{Kind: KindRetryExhausted, Op: opTranslate, Message: MsgTranslateExhausted, Err: err}
	case retry.IsTransient(err):
		return &Error{Kind: KindTransientUpstream, Op: opTranslate, Message: MsgTranslateTimeout, Err: err}
	case retry.ContainsAny(err.Error(), "ssl"):
		return &Error{Kind: KindSecureChannel, Op: opTranslate, Message: MsgTranslateSSL, Err: err}
	default:
		return &Error{Kind: KindUpstream, Op: opTranslate, Message: err.Error(), Err: err}
	}
}

func classifyDetectError(err error) *Error {
	switch {
	case errors.Is(err, retry.ErrExhausted):
		return &Error{Kind: KindRetryExhausted, Op: opDetect, Message: MsgDetectExhausted, Err: err}
	case retry.IsTransient(err):
		return &Error{Kind: KindTransientUpstream, Op: opDetect, Message: MsgDetectTimeout, Err: err}
	default:
		return &Error{Kind: KindUpstream, Op: opDetect, Message: err.Error(), Err: err}
	}
}
