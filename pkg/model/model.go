// Package model holds the immutable chat domain objects shared by server and
// client, together with their validation rules.
package model

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalid is wrapped by every validation failure in this package.
var ErrInvalid = errors.New("invalid")

const maxIDDigits = 20

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func validateID(id int64) error {
	if id < 0 {
		return invalidf("id (%d) cannot be less than 0", id)
	}
	if len(strconv.FormatInt(id, 10)) > maxIDDigits {
		return invalidf("id (%d) cannot be more than %d characters long", id, maxIDDigits)
	}
	return nil
}

func validateLength(field, value string, minLen, maxLen int) error {
	n := len([]rune(value))
	if n < minLen || n > maxLen {
		return invalidf("%s (%s) must be between %d and %d characters long", field, value, minLen, maxLen)
	}
	return nil
}
