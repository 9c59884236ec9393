// Package browser is the one abstraction the rest of routine-desk drives
// pages through. There are two implementations, a real chrome instance
// (chromedp) and an HTTP "browser" (resty + goquery) for server rendered
// pages.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

var (
	// ErrTimeout is returned when a bounded wait expires.
	ErrTimeout = errors.New("timed out waiting for element")
	// ErrNotFound is returned when a selector matches nothing.
	ErrNotFound = errors.New("element not found")
	// ErrLoad wraps a failed Navigate or Reload, the page left behind is
	// unknown and the next attempt has to navigate again.
	ErrLoad = errors.New("page did not load")
)

// Driver drives a single page. A Driver is owned by exactly one goroutine,
// it is not safe for concurrent use.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	// WaitVisible blocks until selector matches a visible element.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// WaitGone blocks until selector matches nothing.
	WaitGone(ctx context.Context, selector string, timeout time.Duration) error
	Text(ctx context.Context, selector string) (string, error)
	OuterHTML(ctx context.Context, selector string) (string, error)
	// SetValue replaces the value of an input.
	SetValue(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	// Close releases the driver, calling it more than once is a no-op.
	Close() error
}

type LaunchOptions struct {
	// Headless hides the browser window, the login flow always runs with a
	// visible window.
	Headless bool
}

// Launcher creates drivers.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Driver, error)
}

// Load navigates to url, or reloads the current page when reload is set.
// Failures wrap ErrLoad.
func Load(ctx context.Context, driver Driver, url string, reload bool) error {
	var err error
	if reload {
		err = driver.Reload(ctx)
	} else {
		err = driver.Navigate(ctx, url)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}
	return nil
}

func timeoutError(selector string, timeout time.Duration) error {
	return fmt.Errorf("%w: %q after %s", ErrTimeout, selector, timeout)
}

func notFoundError(selector string) error {
	return fmt.Errorf("%w: %q", ErrNotFound, selector)
}

// ResetProfile deletes the persistent profile directory, the next login
// starts from a clean browser.
func ResetProfile(dir string) error {
	if dir == "" {
		return fmt.Errorf("no profile directory configured")
	}
	return os.RemoveAll(dir)
}
