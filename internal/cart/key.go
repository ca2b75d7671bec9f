package cart

import (
	"errors"
	"strings"
)

// ErrInvalidKey is returned when neither a user nor a guest session identifies the cart.
var ErrInvalidKey = errors.New("cart key requires a user or guest session")

// Key is the storage key of one cart.
type Key string

// NewKey identifies the cart of an authenticated user, or of a guest session
// when userID is empty.
func NewKey(userID, sessionID string) (Key, error) {
	if u := strings.TrimSpace(userID); u != "" {
		return Key("user:" + u), nil
	}
	if s := strings.TrimSpace(sessionID); s != "" {
		return Key("guest:" + s), nil
	}
	return "", ErrInvalidKey
}

// IsGuest reports whether the key belongs to an anonymous session.
func (k Key) IsGuest() bool {
	return strings.HasPrefix(string(k), "guest:")
}

// UserID returns the user id encoded in a user key.
func (k Key) UserID() string {
	if id, ok := strings.CutPrefix(string(k), "user:"); ok {
		return id
	}
	return ""
}

func (k Key) String() string { return string(k) }

func (k Key) validate() error {
	if k.IsGuest() || k.UserID() != "" {
		return nil
	}
	return ErrInvalidKey
}
