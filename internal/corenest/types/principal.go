package types

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/BrandonDHaskell/corenest/internal/corenest/fault"
)

const (
	MaxPrincipalLength = 128
	MaxTextLength      = 256
)

// Principal identifies a caller or grantee.  Values are compared byte for
// byte, so they must pass through ParsePrincipal before reaching the ledger.
type Principal string

func (p Principal) String() string { return string(p) }

// ParsePrincipal trims and NFC-normalises s and rejects empty, oversized or
// control-character identities.
func ParsePrincipal(s string) (Principal, error) {
	s = norm.NFC.String(strings.TrimSpace(s))
	if s == "" {
		return "", fault.Invalid("principal is required")
	}
	if utf8.RuneCountInString(s) > MaxPrincipalLength {
		return "", fault.Invalid("principal exceeds %d characters", MaxPrincipalLength)
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return "", fault.Invalid("principal contains control characters")
		}
	}
	return Principal(s), nil
}

// CheckText enforces the bounded string type used for references and keys.
func CheckText(field, v string) error {
	if !utf8.ValidString(v) {
		return fault.Invalid("%s is not valid UTF-8", field)
	}
	if utf8.RuneCountInString(v) > MaxTextLength {
		return fault.Invalid("%s exceeds %d characters", field, MaxTextLength)
	}
	return nil
}

// CheckOptionalText is CheckText for optional values; nil is always valid.
func CheckOptionalText(field string, v *string) error {
	if v == nil {
		return nil
	}
	return CheckText(field, *v)
}
