package model

import "strconv"

const (
	MinUsernameLength = 3
	MaxUsernameLength = 20
)

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	NameColor string `json:"name_color"`
}

// NewUser validates and builds a User.
func NewUser(id int64, username, nameColor string) (User, error) {
	u := User{ID: id, Username: username, NameColor: nameColor}
	return u, u.Validate()
}

// Validate checks the fields of a decoded user.
func (u User) Validate() error {
	if err := validateID(u.ID); err != nil {
		return err
	}
	if err := validateLength("username", u.Username, MinUsernameLength, MaxUsernameLength); err != nil {
		return err
	}
	if !IsHexColor(u.NameColor) {
		return invalidf("name color (%s) must be a #rrggbb hex color", u.NameColor)
	}
	return nil
}

// IsHexColor reports whether s has the form #rrggbb.
func IsHexColor(s string) bool {
	if len(s) != 7 || s[0] != '#' {
		return false
	}
	_, err := strconv.ParseUint(s[1:], 16, 32)
	return err == nil
}
