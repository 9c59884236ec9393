package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"routine-desk/lib/telemetry"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func newTestLauncher(t *testing.T) HttpLauncher {
	store, err := OpenMemoryCookieStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return HttpLauncher{
		Store:        store,
		PollInterval: 10 * time.Millisecond,
		Tel:          &telemetry.Recorder{},
	}
}

const loginPage = `<html><body>
<p>Sign in</p>
<form id="login_form" method="post" action="/login">
	<input id="user_name" name="user" type="text">
	<input id="password" name="pass" type="password">
	<input type="hidden" name="csrf" value="token">
	<input type="checkbox" name="remember">
	<button id="verify_btn" name="go" value="1" type="submit">Verify</button>
</form>
</body></html>`

func loginServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, err := r.Cookie("session")
			if err == nil {
				fmt.Fprint(w, `<html><body><p id="welcome">welcome back</p></body></html>`)
				return
			}
			fmt.Fprint(w, loginPage)
			return
		}
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("user") != "jdoe" || r.PostForm.Get("pass") != "secret" ||
			r.PostForm.Get("csrf") != "token" || r.PostForm.Get("go") != "1" ||
			r.PostForm.Has("remember") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok", Path: "/"})
		http.Redirect(w, r, "/home", http.StatusFound)
	})
	mux.HandleFunc("/home", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><pre>{"ok":true}</pre></body></html>`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestHttpDriverLogin(t *testing.T) {
	server := loginServer(t)
	launcher := newTestLauncher(t)
	ctx := context.Background()

	driver, err := launcher.Launch(ctx, LaunchOptions{})
	require.NoError(t, err)
	defer driver.Close()

	require.NoError(t, driver.Navigate(ctx, server.URL+"/login"))
	text, err := driver.Text(ctx, "body")
	require.NoError(t, err)
	require.Contains(t, text, "Sign in")

	require.NoError(t, driver.WaitVisible(ctx, "#user_name", time.Second))
	require.NoError(t, driver.SetValue(ctx, "#user_name", "jdoe"))
	require.NoError(t, driver.SetValue(ctx, "#password", "secret"))
	require.NoError(t, driver.Click(ctx, "#verify_btn"))
	require.NoError(t, driver.WaitGone(ctx, "#login_form", time.Second))

	pre, err := driver.Text(ctx, "pre")
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, pre)

	// the cookie outlives the driver
	second, err := launcher.Launch(ctx, LaunchOptions{})
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Navigate(ctx, server.URL+"/login"))
	_, err = second.Text(ctx, "#welcome")
	require.NoError(t, err)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	stored, err := launcher.Store.Load()
	require.NoError(t, err)
	require.Len(t, stored["http://"+u.Host], 1)
}

func TestHttpDriverNotFound(t *testing.T) {
	server := loginServer(t)
	launcher := newTestLauncher(t)
	ctx := context.Background()

	driver, err := launcher.Launch(ctx, LaunchOptions{})
	require.NoError(t, err)
	defer driver.Close()

	require.NoError(t, driver.Navigate(ctx, server.URL+"/home"))
	_, err = driver.Text(ctx, "#missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, driver.Click(ctx, "#missing"), ErrNotFound)
}

func TestHttpDriverWaitPolls(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			fmt.Fprint(w, `<html><body>loading</body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body><table id="cspDATable"><tr><td>x</td></tr></table></body></html>`)
	}))
	defer server.Close()

	launcher := newTestLauncher(t)
	ctx := context.Background()
	driver, err := launcher.Launch(ctx, LaunchOptions{})
	require.NoError(t, err)
	defer driver.Close()

	require.NoError(t, driver.Navigate(ctx, server.URL))
	require.NoError(t, driver.WaitVisible(ctx, "#cspDATable", 5*time.Second))
	require.GreaterOrEqual(t, hits.Load(), int64(3))

	html, err := driver.OuterHTML(ctx, "#cspDATable")
	require.NoError(t, err)
	require.Contains(t, html, `<td>x</td>`)
}

func TestHttpDriverWaitTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>never</body></html>`)
	}))
	defer server.Close()

	launcher := newTestLauncher(t)
	ctx := context.Background()
	driver, err := launcher.Launch(ctx, LaunchOptions{})
	require.NoError(t, err)
	defer driver.Close()

	require.NoError(t, driver.Navigate(ctx, server.URL))
	err = driver.WaitVisible(ctx, "pre", 50*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestHttpDriverClickWithoutPage(t *testing.T) {
	launcher := newTestLauncher(t)
	ctx := context.Background()
	driver, err := launcher.Launch(ctx, LaunchOptions{})
	require.NoError(t, err)
	defer driver.Close()
	require.ErrorIs(t, driver.Click(ctx, "#verify_btn"), ErrNotFound)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(loginPage + `<a id="next" href="/home">next</a>`))
	require.NoError(t, err)
	detached := &httpDriver{doc: doc}
	require.ErrorContains(t, detached.Click(ctx, "#next"), "no page loaded")
	require.ErrorContains(t, detached.Click(ctx, "#verify_btn"), "no page loaded")
}

func TestLoadFailureAllowsNavigatingAgain(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `<html><body><pre>{}</pre></body></html>`)
	}))
	defer server.Close()

	launcher := newTestLauncher(t)
	ctx := context.Background()
	driver, err := launcher.Launch(ctx, LaunchOptions{})
	require.NoError(t, err)
	defer driver.Close()

	err = Load(ctx, driver, server.URL, false)
	require.ErrorIs(t, err, ErrLoad)
	require.ErrorIs(t, Load(ctx, driver, server.URL, true), ErrLoad, "a failed first load leaves nothing to reload")
	require.Equal(t, int64(1), hits.Load())

	require.NoError(t, Load(ctx, driver, server.URL, false))
	require.NoError(t, Load(ctx, driver, server.URL, true))
	require.Equal(t, int64(3), hits.Load())
}

func TestCookieStoreSaveMerges(t *testing.T) {
	store, err := OpenMemoryCookieStore()
	require.NoError(t, err)
	defer store.Close()

	u, err := url.Parse("https://idp.test/login")
	require.NoError(t, err)

	require.NoError(t, store.Save(u, []*http.Cookie{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}))
	require.NoError(t, store.Save(u, []*http.Cookie{{Name: "a", Value: "3"}, {Name: "b", MaxAge: -1}}))

	stored, err := store.Load()
	require.NoError(t, err)
	cookies := stored["https://idp.test"]
	require.Len(t, cookies, 1)
	require.Equal(t, "a", cookies[0].Name)
	require.Equal(t, "3", cookies[0].Value)
}

func TestResetProfile(t *testing.T) {
	require.Error(t, ResetProfile(""))
	dir := t.TempDir()
	require.NoError(t, ResetProfile(dir))
	require.NoDirExists(t, dir)
}
