package identity

import (
	"errors"
	"strings"
)

var (
	ErrInvalidLoginID = errors.New("login id format is invalid")
	ErrInvalidPhone   = errors.New("phone number format is invalid")
)

// NormalizeLoginID canonicalizes a facility login id. Login ids are
// case-insensitive; comparisons and storage always use the lowered form.
func NormalizeLoginID(raw string) (string, error) {
	loginID := strings.ToLower(strings.TrimSpace(raw))
	if len(loginID) < 3 || len(loginID) > 64 {
		return "", ErrInvalidLoginID
	}
	for _, r := range loginID {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-' || r == '@':
		default:
			return "", ErrInvalidLoginID
		}
	}
	return loginID, nil
}

// NormalizePhone canonicalizes user-entered phone numbers before any lookup
// or storage. Separators and parentheses are dropped; a single leading "+"
// is preserved. Raw input is never compared against stored values.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// separator, dropped
		default:
			return "", ErrInvalidPhone
		}
	}

	phone := b.String()
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < 8 || len(digits) > 15 {
		return "", ErrInvalidPhone
	}
	return phone, nil
}
