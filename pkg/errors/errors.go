package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
)

// Reason narrows a Code down to the business rule that rejected the request.
type Reason string

const (
	ReasonInvalidStatus            Reason = "INVALID_STATUS"
	ReasonOnlinePaymentNotCaptured Reason = "ONLINE_PAYMENT_NOT_CAPTURED"
	ReasonCODNotConfirmed          Reason = "COD_NOT_CONFIRMED"
	ReasonOrderTerminal            Reason = "ORDER_TERMINAL"
	ReasonSubOrderTerminal         Reason = "SUB_ORDER_TERMINAL"
	ReasonCODConfirmNotAllowed     Reason = "COD_CONFIRM_NOT_ALLOWED"
	ReasonNonPositiveAmount        Reason = "NON_POSITIVE_AMOUNT"
	ReasonMissingReference         Reason = "MISSING_IDEMPOTENCY_REFERENCE"
	ReasonAmbiguousReference       Reason = "AMBIGUOUS_IDEMPOTENCY_REFERENCE"
	ReasonInsufficientAvailable    Reason = "INSUFFICIENT_AVAILABLE"
	ReasonNothingToRelease         Reason = "NOTHING_TO_RELEASE"
	ReasonReturnAlreadyProcessed   Reason = "RETURN_ALREADY_PROCESSED"
	ReasonReturnExceedsSettlement  Reason = "RETURN_EXCEEDS_SETTLEMENT"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		HTTPStatus:     http.StatusBadRequest,
		PublicMessage:  "validation failed",
		DetailsAllowed: true,
	},
	CodeUnauthorized: {
		HTTPStatus:    http.StatusUnauthorized,
		PublicMessage: "authentication required",
	},
	CodeForbidden: {
		HTTPStatus:    http.StatusForbidden,
		PublicMessage: "access denied",
	},
	CodeNotFound: {
		HTTPStatus:    http.StatusNotFound,
		PublicMessage: "resource not found",
	},
	CodeConflict: {
		HTTPStatus:     http.StatusConflict,
		PublicMessage:  "conflict detected",
		DetailsAllowed: true,
	},
	CodeStateConflict: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		PublicMessage:  "state transition disallowed",
		DetailsAllowed: true,
	},
	CodeIdempotency: {
		HTTPStatus:     http.StatusConflict,
		PublicMessage:  "idempotency key reused",
		DetailsAllowed: true,
	},
	CodeInternal: {
		HTTPStatus:    http.StatusInternalServerError,
		Retryable:     true,
		PublicMessage: "internal server error",
	},
	CodeDependency: {
		HTTPStatus:     http.StatusServiceUnavailable,
		Retryable:      true,
		PublicMessage:  "dependency unavailable",
		DetailsAllowed: true,
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	reason  Reason
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

// Rejected builds an error carrying a business reason, surfaced to clients
// under details.reason.
func Rejected(code Code, reason Reason, message string) *Error {
	return &Error{
		code:    code,
		reason:  reason,
		message: message,
		details: map[string]any{"reason": string(reason)},
	}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Reason() Reason {
	if e == nil {
		return ""
	}
	return e.reason
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	if e.reason != "" {
		if m, ok := details.(map[string]any); ok {
			merged := make(map[string]any, len(m)+1)
			for k, v := range m {
				merged[k] = v
			}
			merged["reason"] = string(e.reason)
			details = merged
		}
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.reason != "" {
		return fmt.Sprintf("%s(%s): %s", e.code, e.reason, e.message)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code of the first typed error in the chain, or
// CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}

// ReasonOf walks the chain and returns the first non-empty reason.
func ReasonOf(err error) Reason {
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		if typed, ok := e.(*Error); ok && typed.reason != "" {
			return typed.reason
		}
	}
	return ""
}
