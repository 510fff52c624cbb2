package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeUnauthorized      ErrorCode = "unauthorized"
	CodeNotFound          ErrorCode = "not_found"
	CodeMediaError        ErrorCode = "media_error"
	CodeNoOfferPresent    ErrorCode = "no_offer_present"
	CodeNegotiationFailed ErrorCode = "negotiation_failed"
	CodeInsecureContext   ErrorCode = "insecure_context"
	CodeInvalidState      ErrorCode = "invalid_state"
	CodeCallEnded         ErrorCode = "call_ended"
)

// MediaErrorReason classifies why no local media could be acquired.
type MediaErrorReason string

const (
	MediaDenied      MediaErrorReason = "denied"
	MediaNotFound    MediaErrorReason = "not_found"
	MediaUnsupported MediaErrorReason = "unsupported"
	MediaUnknown     MediaErrorReason = "unknown"
)

// Device backends wrap these so acquisition can classify the failure.
var (
	ErrPermissionDenied      = errors.New("device permission denied")
	ErrDeviceNotFound        = errors.New("device not found")
	ErrConstraintUnsupported = errors.New("constraints not supported")
)

// CallError carries a taxonomy code through the single error callback.
type CallError struct {
	Code   ErrorCode
	Reason MediaErrorReason
	Err    error
}

var (
	ErrUnauthorized      = &CallError{Code: CodeUnauthorized}
	ErrNotFound          = &CallError{Code: CodeNotFound}
	ErrMedia             = &CallError{Code: CodeMediaError}
	ErrNoOfferPresent    = &CallError{Code: CodeNoOfferPresent}
	ErrNegotiationFailed = &CallError{Code: CodeNegotiationFailed}
	ErrInsecureContext   = &CallError{Code: CodeInsecureContext}
	ErrInvalidState      = &CallError{Code: CodeInvalidState}
	ErrCallEnded         = &CallError{Code: CodeCallEnded}
)

func NewCallError(code ErrorCode, err error) *CallError {
	return &CallError{Code: code, Err: err}
}

func NewMediaError(reason MediaErrorReason, err error) *CallError {
	return &CallError{Code: CodeMediaError, Reason: reason, Err: err}
}

func (e *CallError) Error() string {
	msg := string(e.Code)
	if e.Reason != "" {
		msg += "(" + string(e.Reason) + ")"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *CallError) Unwrap() error { return e.Err }

// Is matches on code, so errors.Is(err, ErrUnauthorized) works for any wrapped instance.
func (e *CallError) Is(target error) bool {
	t, ok := target.(*CallError)
	if !ok {
		return false
	}
	if t.Reason != "" && t.Reason != e.Reason {
		return false
	}
	return t.Code == e.Code
}

// Fatal reports whether the error ends the current attempt.
func (e *CallError) Fatal() bool {
	return e.Code != CodeNoOfferPresent && e.Code != CodeInvalidState
}

// Hint is the remediation shown next to the error.
func (e *CallError) Hint() string {
	switch e.Code {
	case CodeUnauthorized:
		return "You are not a participant of this appointment. Sign in with the account the consultation was booked for."
	case CodeNotFound:
		return "The appointment could not be found. Check the link or contact the clinic."
	case CodeMediaError:
		switch e.Reason {
		case MediaDenied:
			return "Camera and microphone access was blocked. Allow access in your system or browser settings and try again."
		case MediaNotFound:
			return "No camera or microphone was detected. Connect a device and try again."
		case MediaUnsupported:
			return "Your device does not support the required media settings. Try another device or browser."
		default:
			return "Camera or microphone could not be started. Close other applications using them and try again."
		}
	case CodeNoOfferPresent:
		return "The other participant has not started the call yet. Wait a moment and join again."
	case CodeNegotiationFailed:
		return "The connection was lost. Check your network and start the call again."
	case CodeInsecureContext:
		return "Video calls need a secure (HTTPS) connection. Open the portal over HTTPS or use a supported browser."
	case CodeInvalidState:
		return "This action is not available right now."
	case CodeCallEnded:
		return "The call has ended."
	default:
		return ""
	}
}

// AsCallError converts any error into a CallError, defaulting to fallback.
func AsCallError(err error, fallback ErrorCode) *CallError {
	if err == nil {
		return nil
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	return &CallError{Code: fallback, Err: err}
}
