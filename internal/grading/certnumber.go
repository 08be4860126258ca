package grading

import (
	"fmt"
	"regexp"
	"strings"
)

var certNumberPattern = regexp.MustCompile(`^[0-9]{7,10}$`)

// CertificationNumber is a validated 7-10 digit certification identifier.
// Values should only be produced by ParseCertificationNumber.
type CertificationNumber string

// ParseCertificationNumber trims raw and validates it against the accepted format.
func ParseCertificationNumber(raw string) (CertificationNumber, error) {
	trimmed := strings.TrimSpace(raw)
	if !certNumberPattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q must be 7-10 digits", ErrInvalidCertNumber, raw)
	}
	return CertificationNumber(trimmed), nil
}

// String returns the number as a plain string.
func (c CertificationNumber) String() string {
	return string(c)
}
