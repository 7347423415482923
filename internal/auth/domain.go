// Package auth implements the login surface: credential checks against the
// user store, session establishment and the signed-credential cookie.
package auth

import (
	"errors"
	"time"

	"github.com/qrdine/qrdine/internal/rbac"
)

// ErrInvalidCredentials covers every login failure visible to the caller.
// Unknown email, wrong password and disabled account are deliberately
// indistinguishable.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// User represents an authenticatable account.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	UserType     rbac.UserType
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
