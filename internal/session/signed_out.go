package session

import (
	"context"
	"errors"

	"routine-desk/internal/browser"
)

// ErrSignedOut is returned by a fetch that landed on the login form,
// the marker may be valid but the identity provider no longer accepts the
// session.
var ErrSignedOut = errors.New("signed out by the identity provider")

// DetectSignedOut returns ErrSignedOut if the driver currently shows the
// login form.
func DetectSignedOut(ctx context.Context, driver browser.Driver) error {
	_, err := driver.Text(ctx, SelectorForm)
	if err == nil {
		return ErrSignedOut
	}
	return nil
}
