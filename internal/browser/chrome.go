package browser

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"routine-desk/lib/telemetry"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
)

const (
	report_chrome_launch = "chrome.launch"
	report_chrome_close  = "chrome.close"
)

// ChromeLauncher starts chrome with the persistent profile directory.
type ChromeLauncher struct {
	ProfileDir string
	// ExecPath overrides the chrome binary, empty lets chromedp search for it.
	ExecPath string
	Tel      telemetry.API
}

// chrome locks its user data dir, a headless worker gets a private copy of
// the profile so that many of them can run next to each other.
var profileSkip = map[string]bool{
	"SingletonLock":   true,
	"SingletonSocket": true,
	"SingletonCookie": true,
	"Cache":           true,
	"Code Cache":      true,
	"GPUCache":        true,
	"Crashpad":        true,
}

func copyProfile(src, dst string) error {
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if profileSkip[entry.Name()] {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if entry.IsDir() {
			return os.MkdirAll(target, 0700)
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		contents, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, contents, 0600)
	})
}

func (l ChromeLauncher) Launch(ctx context.Context, opts LaunchOptions) (Driver, error) {
	userDataDir := l.ProfileDir
	var scratch string
	if opts.Headless {
		var err error
		scratch, err = os.MkdirTemp("", "routine-profile-*")
		if err != nil {
			return nil, err
		}
		_, statErr := os.Stat(l.ProfileDir)
		if statErr == nil {
			err = copyProfile(l.ProfileDir, scratch)
			if err != nil {
				os.RemoveAll(scratch)
				return nil, fmt.Errorf("copy profile: %w", err)
			}
		}
		userDataDir = scratch
	} else {
		err := os.MkdirAll(l.ProfileDir, 0700)
		if err != nil {
			return nil, err
		}
	}

	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(userDataDir),
		chromedp.DisableGPU,
		chromedp.Flag("headless", opts.Headless),
	)
	if l.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(l.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	// an empty run starts the browser
	err := chromedp.Run(tabCtx)
	if err != nil {
		cancelTab()
		cancelAlloc()
		if scratch != "" {
			os.RemoveAll(scratch)
		}
		l.Tel.ReportBroken(report_chrome_launch, err, userDataDir)
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	l.Tel.ReportDebug(report_chrome_launch, "headless", opts.Headless, "profile", userDataDir)

	return &chrome{
		tabCtx:      tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		scratch:     scratch,
		tel:         l.Tel,
	}, nil
}

type chrome struct {
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	scratch     string
	tel         telemetry.API
	closeOnce   sync.Once
}

// run executes actions in the tab, ctx cancels the actions without closing
// the tab, timeout > 0 bounds them.
func (c *chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.tabCtx)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *chrome) Navigate(ctx context.Context, url string) error {
	return c.run(ctx, 0, chromedp.Navigate(url))
}

func (c *chrome) Reload(ctx context.Context) error {
	return c.run(ctx, 0, chromedp.Reload())
}

func (c *chrome) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	err := c.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(selector, timeout)
	}
	return err
}

func (c *chrome) WaitGone(ctx context.Context, selector string, timeout time.Duration) error {
	err := c.run(ctx, timeout, chromedp.WaitNotPresent(selector, chromedp.ByQuery))
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(selector, timeout)
	}
	return err
}

func (c *chrome) exists(ctx context.Context, selector string) error {
	var nodes []*cdp.Node
	err := c.run(ctx, 0, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return notFoundError(selector)
	}
	return nil
}

func (c *chrome) Text(ctx context.Context, selector string) (string, error) {
	err := c.exists(ctx, selector)
	if err != nil {
		return "", err
	}
	var text string
	err = c.run(ctx, 0, chromedp.Text(selector, &text, chromedp.ByQuery, chromedp.NodeReady))
	return text, err
}

func (c *chrome) OuterHTML(ctx context.Context, selector string) (string, error) {
	err := c.exists(ctx, selector)
	if err != nil {
		return "", err
	}
	var html string
	err = c.run(ctx, 0, chromedp.OuterHTML(selector, &html, chromedp.ByQuery, chromedp.NodeReady))
	return html, err
}

func (c *chrome) SetValue(ctx context.Context, selector, value string) error {
	err := c.exists(ctx, selector)
	if err != nil {
		return err
	}
	return c.run(
		ctx, 0,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (c *chrome) Click(ctx context.Context, selector string) error {
	err := c.exists(ctx, selector)
	if err != nil {
		return err
	}
	return c.run(ctx, 0, chromedp.Click(selector, chromedp.ByQuery))
}

// closeTimeout bounds how long Close waits for chrome to quit by itself.
const closeTimeout = 10 * time.Second

// Close asks chrome to quit through Browser.close so it flushes cookies into
// the profile, the process is only killed when that fails or times out.
func (c *chrome) Close() error {
	var err error
	c.closeOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(c.tabCtx, closeTimeout)
		err = chromedp.Cancel(closeCtx)
		cancel()
		if err != nil {
			err = fmt.Errorf("close chrome: %w", err)
		}
		c.cancelTab()
		c.cancelAlloc()
		if c.scratch != "" && strings.HasPrefix(filepath.Base(c.scratch), "routine-profile-") {
			err = errors.Join(err, os.RemoveAll(c.scratch))
		}
		if err != nil {
			c.tel.ReportWarning(report_chrome_close, err)
		}
	})
	return err
}
