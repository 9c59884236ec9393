package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"routine-desk/internal/browser"
	"routine-desk/internal/browser/browsertest"
	"routine-desk/internal/marker"
	"routine-desk/lib/chrono"
	"routine-desk/lib/telemetry"

	"github.com/stretchr/testify/require"
)

const loginUrl = "https://idp.test/login"

var loginPage = browsertest.Page{
	"body":           "Sign in to continue",
	SelectorForm:     "",
	SelectorUsername: "",
	SelectorPassword: "",
	SelectorVerify:   "Verify",
}

// loginLauncher serves the login page and accepts jdoe/secret.
func loginLauncher() *browsertest.Launcher {
	return &browsertest.Launcher{
		New: func(opts browser.LaunchOptions) *browsertest.Driver {
			driver := browsertest.NewDriver(func(visit browsertest.Visit) (browsertest.Page, error) {
				return loginPage, nil
			})
			driver.OnClick = func(selector string, values map[string]string) (browsertest.Page, error) {
				if values[SelectorUsername] == "jdoe" && values[SelectorPassword] == "secret" {
					return browsertest.Page{"body": "welcome"}, nil
				}
				return nil, nil
			}
			return driver
		},
	}
}

type fixture struct {
	gate     *Gate
	launcher *browsertest.Launcher
	clock    *chrono.FixedImpl
	marker   marker.Marker
	tel      *telemetry.Recorder
	profile  string
}

func newFixture(t *testing.T, launcher *browsertest.Launcher, secret string) fixture {
	dir := t.TempDir()
	m := marker.New(filepath.Join(dir, "Midway"))
	clock := chrono.NewFixedImpl(time.Date(2024, time.May, 1, 9, 0, 0, 0, time.Local))
	tel := &telemetry.Recorder{}
	profile := filepath.Join(dir, "profile")
	require.NoError(t, os.MkdirAll(profile, 0700))

	gate := NewGate(Options{
		LoginUrl:   loginUrl,
		Wait:       time.Second,
		SignInText: "Sign in",
		ProfileDir: profile,
		Username:   func() (string, error) { return "jdoe", nil },
		Secret:     func() (string, error) { return secret, nil },
	}, m, launcher, clock, tel)

	return fixture{gate: gate, launcher: launcher, clock: clock, marker: m, tel: tel, profile: profile}
}

func TestEnsureLogsIn(t *testing.T) {
	f := newFixture(t, loginLauncher(), "secret")

	outcome, err := f.gate.Ensure(context.Background())
	require.NoError(t, err)
	require.Equal(t, LoggedIn, outcome)
	require.Equal(t, Authenticated, f.gate.State())

	require.Equal(t, 1, f.launcher.Launches())
	require.False(t, f.launcher.Options()[0].Headless)

	driver := f.launcher.Drivers()[0]
	require.True(t, driver.Closed())
	require.Equal(t, []string{loginUrl}, driver.Visited())
	require.Equal(t, []string{SelectorVerify}, driver.Clicks())

	stored, err := f.marker.Stored()
	require.NoError(t, err)
	require.Equal(t, "2024/05/01", stored)
}

func TestEnsureSameDayAuthenticatesOnce(t *testing.T) {
	f := newFixture(t, loginLauncher(), "secret")
	ctx := context.Background()

	_, err := f.gate.Ensure(ctx)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Hour)
	outcome, err := f.gate.Ensure(ctx)
	require.NoError(t, err)
	require.Equal(t, MarkerValid, outcome)
	require.Equal(t, 1, f.launcher.Launches())

	// the next day the marker is stale
	f.clock.Advance(6 * time.Hour)
	outcome, err = f.gate.Ensure(ctx)
	require.NoError(t, err)
	require.Equal(t, LoggedIn, outcome)
	require.Equal(t, 2, f.launcher.Launches())
}

func TestEnsureInvalidMarkerForcesLogin(t *testing.T) {
	for _, contents := range []string{"2024/04/30", "garbage", ""} {
		t.Run(contents, func(t *testing.T) {
			f := newFixture(t, loginLauncher(), "secret")
			require.NoError(t, os.WriteFile(f.marker.Path(), []byte(contents), 0600))

			outcome, err := f.gate.Ensure(context.Background())
			require.NoError(t, err)
			require.Equal(t, LoggedIn, outcome)
			require.Equal(t, 1, f.launcher.Launches())
		})
	}
}

func TestEnsureAlreadySignedIn(t *testing.T) {
	launcher := &browsertest.Launcher{
		New: func(opts browser.LaunchOptions) *browsertest.Driver {
			return browsertest.NewDriver(func(visit browsertest.Visit) (browsertest.Page, error) {
				return browsertest.Page{"body": "your dashboard"}, nil
			})
		},
	}
	f := newFixture(t, launcher, "secret")

	outcome, err := f.gate.Ensure(context.Background())
	require.NoError(t, err)
	require.Equal(t, AlreadySignedIn, outcome)
	require.Empty(t, f.launcher.Drivers()[0].Clicks())

	valid, err := f.marker.Valid(f.clock.Now())
	require.NoError(t, err)
	require.True(t, valid)
}

func TestEnsureWrongSecretFails(t *testing.T) {
	f := newFixture(t, loginLauncher(), "wrong")

	_, err := f.gate.Ensure(context.Background())
	require.ErrorIs(t, err, ErrAuthFailed)
	require.ErrorIs(t, err, browser.ErrTimeout)
	require.Equal(t, Unauthenticated, f.gate.State())
	require.True(t, f.launcher.Drivers()[0].Closed())
	require.True(t, f.tel.Has("broken", "gate.ensure"))

	valid, err := f.marker.Valid(f.clock.Now())
	require.NoError(t, err)
	require.False(t, valid)
}

func TestEnsureLaunchFails(t *testing.T) {
	launcher := loginLauncher()
	launcher.Err = errors.New("no chrome")
	f := newFixture(t, launcher, "secret")

	_, err := f.gate.Ensure(context.Background())
	require.ErrorIs(t, err, ErrAuthFailed)
	require.ErrorContains(t, err, "no chrome")
}

func TestEnsureMissingSecretFails(t *testing.T) {
	f := newFixture(t, loginLauncher(), "")
	f.gate.opts.Secret = func() (string, error) { return "", errors.New("no secret file") }

	_, err := f.gate.Ensure(context.Background())
	require.ErrorIs(t, err, ErrAuthFailed)
	require.True(t, f.launcher.Drivers()[0].Closed())
}

func TestEnsureConcurrentCallersLoginOnce(t *testing.T) {
	f := newFixture(t, loginLauncher(), "secret")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.gate.Ensure(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, f.launcher.Launches())
}

func TestResetAndInvalidate(t *testing.T) {
	f := newFixture(t, loginLauncher(), "secret")
	ctx := context.Background()

	_, err := f.gate.Ensure(ctx)
	require.NoError(t, err)

	require.NoError(t, f.gate.Invalidate())
	require.False(t, f.gate.Valid())
	require.DirExists(t, f.profile)

	_, err = f.gate.Ensure(ctx)
	require.NoError(t, err)
	require.NoError(t, f.gate.Reset())
	require.False(t, f.gate.Valid())
	require.NoDirExists(t, f.profile)
	require.Equal(t, Unauthenticated, f.gate.State())
}

func TestDetectSignedOut(t *testing.T) {
	driver := browsertest.NewDriver(func(visit browsertest.Visit) (browsertest.Page, error) {
		return loginPage, nil
	})
	ctx := context.Background()
	require.NoError(t, driver.Navigate(ctx, loginUrl))
	require.ErrorIs(t, DetectSignedOut(ctx, driver), ErrSignedOut)

	driver = browsertest.NewDriver(func(visit browsertest.Visit) (browsertest.Page, error) {
		return browsertest.Page{"pre": "{}"}, nil
	})
	require.NoError(t, driver.Navigate(ctx, "https://logistics.test"))
	require.NoError(t, DetectSignedOut(ctx, driver))
}
