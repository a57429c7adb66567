package authclient

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredential = "AUTH_INVALID_CREDENTIAL"
	TextCodeInvalidInput      = "AUTH_INVALID_INPUT"
	TextCodeInvalidLinkToken  = "AUTH_INVALID_LINK_TOKEN"
	TextCodeExchangeRejected  = "AUTH_EXCHANGE_REJECTED"
	TextCodeUnknownProvider   = "AUTH_UNKNOWN_PROVIDER"
	TextCodeForgery           = "AUTH_FORGERY"
	TextCodeNetwork           = "AUTH_NETWORK"
	TextCodeFeatureDisabled   = "AUTH_FEATURE_DISABLED"
	TextCodeInvalidConfig     = "AUTH_INVALID_CONFIG"
	TextCodeSessionExpired    = "AUTH_SESSION_EXPIRED"
	TextCodeTokenUndecodable  = "AUTH_TOKEN_UNDECODABLE"
	TextCodeInvalidTransition = "AUTH_INVALID_TRANSITION"
)

// ErrInvalidCredential is returned for any failed credential lookup. It does
// not say whether the identifier or the secret was wrong.
var ErrInvalidCredential = goerrors.New("invalid credential", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidCredential).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidInput is returned when login input is missing or malformed.
var ErrInvalidInput = goerrors.New("invalid input", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidInput).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidLinkToken is returned when the secondary account rejects a token.
var ErrInvalidLinkToken = goerrors.New("invalid token", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidLinkToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrExchangeRejected is returned when the backend refuses a code exchange.
var ErrExchangeRejected = goerrors.New("code exchange rejected", goerrors.CategoryValidation).
	WithTextCode(TextCodeExchangeRejected).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnknownProvider is returned for a redirect provider that is not registered.
var ErrUnknownProvider = goerrors.New("unknown provider", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUnknownProvider).
	WithCode(goerrors.CodeNotFound)

// ErrForgery is returned when a redirect callback does not carry the state
// this client issued. Missing and mismatched state yield the same error.
var ErrForgery = goerrors.New("possible forgery attempt", goerrors.CategoryAuth).
	WithTextCode(TextCodeForgery).
	WithCode(goerrors.CodeForbidden)

// ErrNetwork is the base for transport failures reaching a backend or provider.
var ErrNetwork = goerrors.New("network failure", goerrors.CategoryOperation).
	WithTextCode(TextCodeNetwork).
	WithCode(goerrors.CodeInternal)

// ErrFeatureDisabled is returned when configuration disables the requested method.
var ErrFeatureDisabled = goerrors.New("feature disabled by configuration", goerrors.CategoryAuthz).
	WithTextCode(TextCodeFeatureDisabled).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = goerrors.New("invalid configuration", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidConfig).
	WithCode(goerrors.CodeBadRequest)

// ErrSessionExpired is returned when there is no session to act on or it can
// no longer be refreshed.
var ErrSessionExpired = goerrors.New("session expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenUndecodable is returned when the claims segment cannot be parsed.
var ErrTokenUndecodable = goerrors.New("token claims could not be decoded", goerrors.CategoryBadInput).
	WithTextCode(TextCodeTokenUndecodable).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidTransition is returned for a state change the manager does not allow.
var ErrInvalidTransition = goerrors.New("invalid session state transition", goerrors.CategoryConflict).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeConflict)

// ErrorKind is the coarse classification callers render on.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindValidation    ErrorKind = "validation"
	KindSecurity      ErrorKind = "security"
	KindNetwork       ErrorKind = "network"
	KindConfiguration ErrorKind = "configuration"
	KindExpired       ErrorKind = "expired_session"
	KindUnknown       ErrorKind = "unknown"
)

var kindByTextCode = map[string]ErrorKind{
	TextCodeInvalidCredential: KindValidation,
	TextCodeInvalidInput:      KindValidation,
	TextCodeInvalidLinkToken:  KindValidation,
	TextCodeExchangeRejected:  KindValidation,
	TextCodeUnknownProvider:   KindValidation,
	TextCodeTokenUndecodable:  KindValidation,
	TextCodeForgery:           KindSecurity,
	TextCodeNetwork:           KindNetwork,
	TextCodeFeatureDisabled:   KindConfiguration,
	TextCodeInvalidConfig:     KindConfiguration,
	TextCodeSessionExpired:    KindExpired,
}

// KindOf classifies err into the taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var richErr *goerrors.Error
	if errors.As(err, &richErr) && richErr != nil {
		if kind, ok := kindByTextCode[richErr.TextCode]; ok {
			return kind
		}
	}
	return KindUnknown
}

// IsSecurityError reports whether err is an anti-forgery rejection.
func IsSecurityError(err error) bool { return KindOf(err) == KindSecurity }

// IsNetworkError reports whether err is a transport failure.
func IsNetworkError(err error) bool { return KindOf(err) == KindNetwork }

// NetworkError wraps a transport failure with operation metadata.
func NetworkError(err error, operation string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, ErrNetwork.Category, ErrNetwork.Message).
		WithTextCode(TextCodeNetwork).
		WithMetadata(map[string]any{
			"operation": operation,
			"cause":     err.Error(),
		})
}
