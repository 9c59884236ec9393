// Package session is the authenticated session gate, it makes sure the
// browser profile is logged into the identity provider before any fetch
// runs, logging in at most once per calendar day.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"routine-desk/internal/browser"
	"routine-desk/internal/marker"
	"routine-desk/lib/chrono"
	"routine-desk/lib/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("routine-desk/internal/session")

// ErrAuthFailed wraps every failure of the login flow.
var ErrAuthFailed = errors.New("authentication failed")

type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Outcome tells how Ensure reached Authenticated.
type Outcome int

const (
	// MarkerValid means the marker was already valid, no browser was launched.
	MarkerValid Outcome = iota
	// AlreadySignedIn means the profile's cookies were still accepted.
	AlreadySignedIn
	// LoggedIn means the login form was filled and submitted.
	LoggedIn
)

func (o Outcome) String() string {
	switch o {
	case MarkerValid:
		return "marker valid"
	case AlreadySignedIn:
		return "already signed in"
	case LoggedIn:
		return "logged in"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

const (
	SelectorUsername = "#user_name"
	SelectorPassword = "#password"
	SelectorVerify   = "#verify_btn"
	SelectorForm     = "#login_form"
)

type Options struct {
	LoginUrl string
	// Wait bounds every wait of the login flow.
	Wait time.Duration
	// SignInText is looked for in the login page, when it is missing the
	// profile is taken to be signed in already.
	SignInText string
	ProfileDir string

	Username func() (string, error)
	Secret   func() (string, error)
}

// Gate serializes logins, concurrent Ensure calls never run two login flows.
type Gate struct {
	opts     Options
	marker   marker.Marker
	launcher browser.Launcher
	clock    chrono.API
	tel      telemetry.API

	mutex sync.Mutex
	state State
}

func NewGate(opts Options, m marker.Marker, launcher browser.Launcher, clock chrono.API, tel telemetry.API) *Gate {
	if opts.Wait <= 0 {
		opts.Wait = 30 * time.Second
	}
	return &Gate{
		opts:     opts,
		marker:   m,
		launcher: launcher,
		clock:    clock,
		tel:      telemetry.NewScopedAPI("session", tel),
		state:    Unauthenticated,
	}
}

func (g *Gate) State() State {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.state
}

// Valid reports whether the marker is valid right now.
func (g *Gate) Valid() bool {
	valid, err := g.marker.Valid(g.clock.Now())
	if err != nil {
		g.tel.ReportWarning("gate.valid", err)
		return false
	}
	return valid
}

// Ensure returns once the session is authenticated, or with an error
// wrapping ErrAuthFailed. It does not retry.
func (g *Gate) Ensure(ctx context.Context) (Outcome, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	ctx, span := tracer.Start(ctx, "gate.ensure")
	defer span.End()

	if g.Valid() {
		g.state = Authenticated
		span.SetAttributes(attribute.String("outcome", MarkerValid.String()))
		return MarkerValid, nil
	}

	g.state = Authenticating
	outcome, err := g.login(ctx)
	if err != nil {
		g.state = Unauthenticated
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		g.tel.ReportBroken("gate.ensure", err)
		return 0, fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}

	err = g.marker.Write(g.clock.Now())
	if err != nil {
		g.state = Unauthenticated
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write marker")
		return 0, fmt.Errorf("%w: write marker: %w", ErrAuthFailed, err)
	}

	g.state = Authenticated
	span.SetAttributes(attribute.String("outcome", outcome.String()))
	g.tel.ReportDebug("gate.ensure", "outcome", outcome.String())
	return outcome, nil
}

func (g *Gate) login(ctx context.Context) (outcome Outcome, err error) {
	if g.opts.LoginUrl == "" {
		return 0, fmt.Errorf("no login url configured")
	}

	driver, err := g.launcher.Launch(ctx, browser.LaunchOptions{Headless: false})
	if err != nil {
		return 0, err
	}
	defer func() {
		closeErr := driver.Close()
		if closeErr != nil {
			g.tel.ReportWarning("gate.login", "close driver", closeErr)
		}
	}()

	err = driver.Navigate(ctx, g.opts.LoginUrl)
	if err != nil {
		return 0, fmt.Errorf("navigate to login: %w", err)
	}

	if g.opts.SignInText != "" {
		body, err := driver.Text(ctx, "body")
		if err == nil && !strings.Contains(body, g.opts.SignInText) {
			return AlreadySignedIn, nil
		}
	}

	err = driver.WaitVisible(ctx, SelectorUsername, g.opts.Wait)
	if err != nil {
		return 0, err
	}
	username, err := g.opts.Username()
	if err != nil {
		return 0, err
	}
	err = driver.SetValue(ctx, SelectorUsername, username)
	if err != nil {
		return 0, err
	}

	secret, err := g.opts.Secret()
	if err != nil {
		return 0, err
	}
	err = driver.WaitVisible(ctx, SelectorPassword, g.opts.Wait)
	if err != nil {
		return 0, err
	}
	err = driver.SetValue(ctx, SelectorPassword, secret)
	if err != nil {
		return 0, err
	}

	err = driver.Click(ctx, SelectorVerify)
	if err != nil {
		return 0, err
	}
	err = driver.WaitGone(ctx, SelectorForm, g.opts.Wait)
	if err != nil {
		return 0, err
	}
	return LoggedIn, nil
}

// Reset forgets the session, the profile directory and the marker are both
// deleted so that the next Ensure logs in from scratch.
func (g *Gate) Reset() error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.state = Unauthenticated
	return errors.Join(
		g.marker.Clear(),
		browser.ResetProfile(g.opts.ProfileDir),
	)
}

// Invalidate clears the marker without touching the profile, it is used
// when a fetch lands on the login page although the marker said otherwise.
func (g *Gate) Invalidate() error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.state = Unauthenticated
	return g.marker.Clear()
}
