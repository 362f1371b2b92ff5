package upstream

import (
	"fmt"
)

// ErrorKind is the closed classification of upstream failures. Callers branch
// on Kind and never on raw upstream codes.
type ErrorKind string

const (
	// KindItemNotAccessible means the upstream reports the item does not
	// exist or is not purchasable in the marketplace. A domain outcome,
	// not a systemic failure.
	KindItemNotAccessible ErrorKind = "ITEM_NOT_ACCESSIBLE"

	// KindThrottled means the upstream rate limit was exceeded. Retryable.
	KindThrottled ErrorKind = "THROTTLED"

	// KindInvalidParameter means the request itself was malformed
	// (unsupported resource, bad marketplace). Not retryable.
	KindInvalidParameter ErrorKind = "INVALID_PARAMETER"

	// KindTimeout means the request exceeded its deadline. Retryable.
	KindTimeout ErrorKind = "TIMEOUT"

	// KindNetworkError means a transport-level failure. Retryable.
	KindNetworkError ErrorKind = "NETWORK_ERROR"

	// KindAuthError means signing or credentials were rejected. Not
	// retryable; retrying cannot fix bad credentials.
	KindAuthError ErrorKind = "AUTH_ERROR"

	// KindUnknown is the catch-all. Retryable with caution.
	KindUnknown ErrorKind = "UNKNOWN"
)

// Error is a classified upstream failure. UpstreamCode and Message carry the
// original diagnostics without leaking upstream vocabulary into control flow.
type Error struct {
	Kind         ErrorKind
	UpstreamCode string
	Message      string
	cause        error
}

func (e *Error) Error() string {
	if e.UpstreamCode != "" {
		return fmt.Sprintf("upstream %s (%s): %s", e.Kind, e.UpstreamCode, e.Message)
	}
	return fmt.Sprintf("upstream %s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying transport error, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Retryable reports whether an attempt with this classification may be retried.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindThrottled, KindTimeout, KindNetworkError, KindUnknown:
		return true
	default:
		return false
	}
}

func newError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, UpstreamCode: code, Message: message}
}

func wrapError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// classifyCode maps an upstream error code to a kind. Codes not on the list
// fall through to the HTTP status classification.
func classifyCode(code string) (ErrorKind, bool) {
	switch code {
	case "ItemsNotFound", "ItemNotAccessible", "InvalidItemId":
		return KindItemNotAccessible, true
	case "TooManyRequests", "RequestThrottled":
		return KindThrottled, true
	case "InvalidParameterValue", "MissingParameter", "UnsupportedResource", "InvalidMarketplace":
		return KindInvalidParameter, true
	case "InvalidSignature", "IncompleteSignature", "UnrecognizedClient", "AccessDenied", "InvalidPartnerTag":
		return KindAuthError, true
	default:
		return KindUnknown, false
	}
}

// classifyStatus maps an HTTP status code to a kind when the response body
// carried no recognizable error code.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return KindThrottled
	case status == 401 || status == 403:
		return KindAuthError
	case status >= 400 && status < 500:
		return KindInvalidParameter
	default:
		return KindUnknown
	}
}
