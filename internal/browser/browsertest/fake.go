// Package browsertest has in-memory implementations of browser.Driver and
// browser.Launcher for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"routine-desk/internal/browser"
)

// Page maps selectors to the text of the element they match, a selector
// that is absent matches nothing.
type Page map[string]string

// Visit is passed to a Handler on every Navigate and Reload.
type Visit struct {
	Url string
	// N counts loads of this driver, starting at 1.
	N int
	// Reload is true when the load came from Reload.
	Reload bool
}

type Handler func(visit Visit) (Page, error)

// ClickHandler may return a new page after a click, nil keeps the page.
type ClickHandler func(selector string, values map[string]string) (Page, error)

type Driver struct {
	Handler Handler
	OnClick ClickHandler

	mutex   sync.Mutex
	url     string
	loads   int
	page    Page
	values  map[string]string
	clicks  []string
	visited []string
	closed  int
}

func NewDriver(handler Handler) *Driver {
	return &Driver{Handler: handler, values: map[string]string{}}
}

func (d *Driver) load(url string, reload bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.closed > 0 {
		return fmt.Errorf("driver is closed")
	}
	d.loads++
	d.visited = append(d.visited, url)
	page, err := d.Handler(Visit{Url: url, N: d.loads, Reload: reload})
	if err != nil {
		return err
	}
	d.url = url
	d.page = page
	return nil
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	return d.load(url, false)
}

// Reload fails like the real drivers when no load has succeeded yet.
func (d *Driver) Reload(ctx context.Context) error {
	d.mutex.Lock()
	url := d.url
	d.mutex.Unlock()
	if url == "" {
		return fmt.Errorf("nothing to reload")
	}
	return d.load(url, true)
}

func (d *Driver) has(selector string) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	_, ok := d.page[selector]
	return ok
}

func (d *Driver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if d.has(selector) {
		return nil
	}
	return fmt.Errorf("%w: %q", browser.ErrTimeout, selector)
}

func (d *Driver) WaitGone(ctx context.Context, selector string, timeout time.Duration) error {
	if !d.has(selector) {
		return nil
	}
	return fmt.Errorf("%w: %q", browser.ErrTimeout, selector)
}

func (d *Driver) Text(ctx context.Context, selector string) (string, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	text, ok := d.page[selector]
	if !ok {
		return "", fmt.Errorf("%w: %q", browser.ErrNotFound, selector)
	}
	return text, nil
}

func (d *Driver) OuterHTML(ctx context.Context, selector string) (string, error) {
	return d.Text(ctx, selector)
}

func (d *Driver) SetValue(ctx context.Context, selector, value string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, ok := d.page[selector]; !ok {
		return fmt.Errorf("%w: %q", browser.ErrNotFound, selector)
	}
	d.values[selector] = value
	return nil
}

func (d *Driver) Click(ctx context.Context, selector string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, ok := d.page[selector]; !ok {
		return fmt.Errorf("%w: %q", browser.ErrNotFound, selector)
	}
	d.clicks = append(d.clicks, selector)
	if d.OnClick == nil {
		return nil
	}
	values := map[string]string{}
	for k, v := range d.values {
		values[k] = v
	}
	page, err := d.OnClick(selector, values)
	if err != nil {
		return err
	}
	if page != nil {
		d.page = page
	}
	return nil
}

func (d *Driver) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.closed++
	return nil
}

// Closed reports whether Close was called at least once.
func (d *Driver) Closed() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.closed > 0
}

func (d *Driver) Values() map[string]string {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	out := map[string]string{}
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

func (d *Driver) Clicks() []string {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return append([]string(nil), d.clicks...)
}

func (d *Driver) Visited() []string {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return append([]string(nil), d.visited...)
}

// Launcher hands out drivers built by New and remembers all of them.
type Launcher struct {
	New func(opts browser.LaunchOptions) *Driver
	// Err makes every launch fail.
	Err error

	launches atomic.Int64
	mutex    sync.Mutex
	drivers  []*Driver
	options  []browser.LaunchOptions
}

func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Driver, error) {
	l.launches.Add(1)
	if l.Err != nil {
		return nil, l.Err
	}
	driver := l.New(opts)

	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.drivers = append(l.drivers, driver)
	l.options = append(l.options, opts)
	return driver, nil
}

func (l *Launcher) Launches() int {
	return int(l.launches.Load())
}

func (l *Launcher) Drivers() []*Driver {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]*Driver(nil), l.drivers...)
}

func (l *Launcher) Options() []browser.LaunchOptions {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]browser.LaunchOptions(nil), l.options...)
}
