package auth

import (
	"math"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/mahaj/lytecord/pkg/model"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 50

	passwordSymbols = "_@$!%*#?&"

	// Name colours closer than this to the client background are unreadable
	colorThreshold = 20
)

var reservedColors = []string{"#2b2b2b"}

func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

func CheckPassword(password string, hash []byte) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// ValidUsername accepts 3 to 20 letters, digits, dots and underscores. Dots
// and underscores may not lead, trail or repeat.
func ValidUsername(username string) bool {
	if len(username) < model.MinUsernameLength || len(username) > model.MaxUsernameLength {
		return false
	}
	if strings.ContainsAny(username[:1], "._") || strings.ContainsAny(username[len(username)-1:], "._") {
		return false
	}

	prevSep := false
	for _, r := range username {
		sep := r == '.' || r == '_'
		switch {
		case sep && prevSep:
			return false
		case sep, isAlnum(r):
		default:
			return false
		}
		prevSep = sep
	}
	return true
}

// ValidPassword requires 8 to 50 characters with a lowercase letter, an
// uppercase letter and a digit, drawn from letters, digits and _@$!%*#?&.
func ValidPassword(password string) bool {
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return false
	}

	var lower, upper, digit bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
		default:
			return false
		}
	}
	return lower && upper && digit
}

// ValidNameColor reports whether color is a #rrggbb value distinct enough
// from the reserved colours.
func ValidNameColor(color string) bool {
	if !model.IsHexColor(color) {
		return false
	}
	for _, reserved := range reservedColors {
		if colorDistance(color, reserved) < colorThreshold {
			return false
		}
	}
	return true
}

// colorDistance is the euclidean distance of two #rrggbb colours in RGB space.
func colorDistance(a, b string) float64 {
	ar, ag, ab := rgb(a)
	br, bg, bb := rgb(b)
	dr, dg, db := float64(ar-br), float64(ag-bg), float64(ab-bb)
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

func rgb(color string) (r, g, b int) {
	return hexByte(color[1:3]), hexByte(color[3:5]), hexByte(color[5:7])
}

func hexByte(s string) int {
	return hexDigit(s[0])<<4 | hexDigit(s[1])
}

func hexDigit(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return 0
}

func isAlnum(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
}
