// Package apperr defines the KoraError taxonomy shared by every core
// subsystem and the JSON-RPC error-code mapping used at the handler
// boundary.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the taxonomy discriminant. It is never serialized on its
// own; handlers map it to a JSON-RPC error code.
type Kind string

const (
	KindInvalidTransaction  Kind = "InvalidTransaction"
	KindValidationError     Kind = "ValidationError"
	KindPaymentError        Kind = "PaymentError"
	KindTokenOperationError Kind = "TokenOperationError"
	KindRPCError            Kind = "RpcError"
	KindSigningError        Kind = "SigningError"
	KindInternalServerError Kind = "InternalServerError"
	KindJitoError           Kind = "JitoError"
	KindBundleError         Kind = "BundleError"
	KindRecaptchaError      Kind = "RecaptchaError"
)

// KoraError is the single error type used across the module. Kind
// selects the taxonomy bucket; Message is the human-readable detail;
// Cause is the wrapped underlying error, if any.
type KoraError struct {
	Kind    Kind
	Message string
	Cause   error

	// Payment holds the {required, found, mint} triple for
	// KindPaymentError, kept structured (rather than baked into
	// Message) so Sanitize can redact the address/amount pieces
	// independently of the general unsafeDebug switch.
	Payment *PaymentDetail
}

// PaymentDetail is the shortfall detail spec.md §7 says a PaymentError
// response must carry, subject to the privacy redaction flags
// (SPEC_FULL.md §3).
type PaymentDetail struct {
	Required uint64
	Found    uint64
	Mint     string
}

func (e *KoraError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *KoraError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, apperr.New(kind, "")) match any *KoraError of
// the same Kind; Message and Cause are not compared.
func (e *KoraError) Is(target error) bool {
	var t *KoraError
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

func New(kind Kind, message string) *KoraError {
	return &KoraError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *KoraError {
	return &KoraError{Kind: kind, Message: message, Cause: cause}
}

func Invalid(format string, args ...interface{}) *KoraError {
	return New(KindInvalidTransaction, fmt.Sprintf(format, args...))
}

func Validation(format string, args ...interface{}) *KoraError {
	return New(KindValidationError, fmt.Sprintf(format, args...))
}

func Internal(format string, args ...interface{}) *KoraError {
	return New(KindInternalServerError, fmt.Sprintf(format, args...))
}

func Signing(format string, args ...interface{}) *KoraError {
	return New(KindSigningError, fmt.Sprintf(format, args...))
}

func TokenOp(format string, args ...interface{}) *KoraError {
	return New(KindTokenOperationError, fmt.Sprintf(format, args...))
}

func RPC(format string, args ...interface{}) *KoraError {
	return New(KindRPCError, fmt.Sprintf(format, args...))
}

// Payment builds a PaymentError carrying the {required, found, mint}
// detail spec.md §7 says must be returned to the caller, subject to
// the privacy redaction flags applied at Sanitize time.
func Payment(required, found uint64, mint string) *KoraError {
	return &KoraError{
		Kind:    KindPaymentError,
		Message: fmt.Sprintf("insufficient payment: required %d, found %d (mint %s)", required, found, mint),
		Payment: &PaymentDetail{Required: required, Found: found, Mint: mint},
	}
}

// KindOf extracts the Kind of err, defaulting to InternalServerError
// when err is not a *KoraError.
func KindOf(err error) Kind {
	var ke *KoraError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindInternalServerError
}

// JSONRPCCode maps a Kind to the JSON-RPC 2.0 error code space
// described in spec.md §7: validation -> -32602, internal -> -32603,
// custom domains in -32000..-32099.
func JSONRPCCode(k Kind) int {
	switch k {
	case KindValidationError:
		return -32602
	case KindInternalServerError:
		return -32603
	case KindInvalidTransaction:
		return -32000
	case KindPaymentError:
		return -32001
	case KindTokenOperationError:
		return -32002
	case KindRPCError:
		return -32003
	case KindSigningError:
		return -32004
	case KindJitoError:
		return -32005
	case KindBundleError:
		return -32006
	case KindRecaptchaError:
		return -32007
	default:
		return -32603
	}
}

// Privacy carries the redaction flags from config.PrivacyConfig
// (SPEC_FULL.md §3) down to Sanitize without apperr importing the
// config package (config already imports apperr).
type Privacy struct {
	RedactAccountAddresses bool
	RedactAmounts          bool
}

// Sanitize returns a message safe to return to external callers. When
// unsafeDebug is false, any Cause detail and the raw Message are
// collapsed to a generic per-kind category string so that backend
// error text (e.g. a Vault response body) never leaks externally.
// privacy additionally redacts account addresses and/or amounts out
// of the PaymentError detail that otherwise survives sanitization
// verbatim (spec.md §7).
func Sanitize(err error, unsafeDebug bool, privacy Privacy) string {
	if unsafeDebug {
		return err.Error()
	}
	k := KindOf(err)
	switch k {
	case KindValidationError:
		return "transaction rejected by policy"
	case KindPaymentError:
		var ke *KoraError
		if errors.As(err, &ke) && ke.Payment != nil {
			return sanitizePaymentDetail(ke.Payment, privacy)
		}
		return "insufficient payment"
	case KindInvalidTransaction:
		return "malformed transaction"
	case KindTokenOperationError:
		return "token account or mint could not be read"
	case KindRPCError:
		return "upstream chain RPC failure"
	case KindSigningError:
		return "signing backend failure"
	case KindJitoError, KindBundleError:
		return "bundle submission failure"
	case KindRecaptchaError:
		return "captcha verification failed"
	default:
		return "internal server error"
	}
}

// sanitizePaymentDetail rebuilds the payment shortfall message from
// the structured detail, redacting the mint address and/or the
// required/found amounts per privacy.
func sanitizePaymentDetail(d *PaymentDetail, privacy Privacy) string {
	mint := d.Mint
	if privacy.RedactAccountAddresses {
		mint = "[redacted]"
	}
	if privacy.RedactAmounts {
		return fmt.Sprintf("insufficient payment (mint %s)", mint)
	}
	return fmt.Sprintf("insufficient payment: required %d, found %d (mint %s)", d.Required, d.Found, mint)
}
