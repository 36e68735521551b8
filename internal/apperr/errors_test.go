package apperr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizePaymentErrorIncludesDetailByDefault(t *testing.T) {
	err := Payment(1000, 400, "So11111111111111111111111111111111111111112")
	got := Sanitize(err, false, Privacy{})
	require.Equal(t, "insufficient payment: required 1000, found 400 (mint So11111111111111111111111111111111111111112)", got)
}

func TestSanitizeRedactsAccountAddresses(t *testing.T) {
	err := Payment(1000, 400, "So11111111111111111111111111111111111111112")
	got := Sanitize(err, false, Privacy{RedactAccountAddresses: true})
	require.Equal(t, "insufficient payment: required 1000, found 400 (mint [redacted])", got)
}

func TestSanitizeRedactsAmounts(t *testing.T) {
	err := Payment(1000, 400, "So11111111111111111111111111111111111111112")
	got := Sanitize(err, false, Privacy{RedactAmounts: true})
	require.Equal(t, "insufficient payment (mint So11111111111111111111111111111111111111112)", got)
}

func TestSanitizeUnsafeDebugBypassesRedaction(t *testing.T) {
	err := Payment(1000, 400, "mint")
	got := Sanitize(err, true, Privacy{RedactAccountAddresses: true, RedactAmounts: true})
	require.Contains(t, got, "required 1000")
}

func TestSanitizeOtherKindsIgnorePrivacy(t *testing.T) {
	got := Sanitize(Validation("bad transaction"), false, Privacy{RedactAccountAddresses: true})
	require.Equal(t, "transaction rejected by policy", got)
}
