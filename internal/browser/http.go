package browser

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"routine-desk/lib/restyutil"
	"routine-desk/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/PuerkitoBio/purell"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("routine-desk/internal/browser")

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// HttpLauncher creates HTTP drivers that share one cookie store.
type HttpLauncher struct {
	Store *CookieStore
	// PollInterval is how often waits re-fetch the page, defaults to 500ms.
	PollInterval     time.Duration
	BypassCloudflare bool
	// Dump receives every request/response pair when set.
	Dump restyutil.Output
	Tel  telemetry.API
}

// CookieStoreDir is where the HTTP driver keeps its cookies inside a profile.
func CookieStoreDir(profileDir string) string {
	return filepath.Join(profileDir, "http-cookies")
}

func (l HttpLauncher) Launch(ctx context.Context, opts LaunchOptions) (Driver, error) {
	jar, err := l.Store.Jar()
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetCookieJar(jar)
	client.SetHeader("user-agent", userAgent)
	client.SetTimeout(time.Second * 30)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	if l.BypassCloudflare {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	restyutil.InstrumentClient(client, l.Tel, l.Dump)

	poll := l.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &httpDriver{client: client, poll: poll}, nil
}

// httpDriver keeps the last fetched document as "the page", SetValue edits
// inputs of that document and Click submits the enclosing form or follows
// a link.
type httpDriver struct {
	client  *resty.Client
	poll    time.Duration
	current *url.URL
	doc     *goquery.Document
	closed  bool
}

func (d *httpDriver) load(res *resty.Response) error {
	if res.IsError() {
		return fmt.Errorf("%s %s: %s", res.Request.Method, res.Request.URL, res.Status())
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return err
	}
	final := res.RawResponse.Request.URL
	d.current = final
	d.doc = doc
	return nil
}

func (d *httpDriver) get(ctx context.Context, target string) error {
	if d.closed {
		return fmt.Errorf("driver is closed")
	}
	res, err := d.client.R().SetContext(ctx).Get(target)
	if err != nil {
		return err
	}
	return d.load(res)
}

func (d *httpDriver) Navigate(ctx context.Context, target string) error {
	ctx, span := tracer.Start(ctx, "http-driver.navigate")
	defer span.End()

	normalized, err := purell.NormalizeURLString(target, purell.FlagsSafe|purell.FlagRemoveFragment)
	if err != nil {
		return err
	}
	return d.get(ctx, normalized)
}

func (d *httpDriver) Reload(ctx context.Context) error {
	if d.current == nil {
		return fmt.Errorf("nothing to reload")
	}
	return d.get(ctx, d.current.String())
}

// resolve makes ref absolute against the page currently loaded.
func (d *httpDriver) resolve(ref string) (*url.URL, error) {
	if d.current == nil {
		return nil, fmt.Errorf("no page loaded to resolve %q against", ref)
	}
	return d.current.Parse(ref)
}

func (d *httpDriver) find(selector string) (*goquery.Selection, error) {
	if d.doc == nil {
		return nil, notFoundError(selector)
	}
	sel := d.doc.Find(selector)
	if sel.Length() == 0 {
		return nil, notFoundError(selector)
	}
	return sel.First(), nil
}

// waitFor re-fetches the current page until present(selector) holds.
func (d *httpDriver) waitFor(ctx context.Context, selector string, timeout time.Duration, present bool) error {
	deadline := time.Now().Add(timeout)
	for {
		_, err := d.find(selector)
		if (err == nil) == present {
			return nil
		}
		if !time.Now().Add(d.poll).Before(deadline) {
			return timeoutError(selector, timeout)
		}

		timer := time.NewTimer(d.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if d.current != nil {
			err = d.get(ctx, d.current.String())
			if err != nil {
				return err
			}
		}
	}
}

func (d *httpDriver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return d.waitFor(ctx, selector, timeout, true)
}

func (d *httpDriver) WaitGone(ctx context.Context, selector string, timeout time.Duration) error {
	return d.waitFor(ctx, selector, timeout, false)
}

func (d *httpDriver) Text(ctx context.Context, selector string) (string, error) {
	sel, err := d.find(selector)
	if err != nil {
		return "", err
	}
	return sel.Text(), nil
}

func (d *httpDriver) OuterHTML(ctx context.Context, selector string) (string, error) {
	sel, err := d.find(selector)
	if err != nil {
		return "", err
	}
	return goquery.OuterHtml(sel)
}

func (d *httpDriver) SetValue(ctx context.Context, selector, value string) error {
	sel, err := d.find(selector)
	if err != nil {
		return err
	}
	if goquery.NodeName(sel) == "textarea" {
		sel.SetText(value)
		return nil
	}
	sel.SetAttr("value", value)
	return nil
}

func (d *httpDriver) Click(ctx context.Context, selector string) error {
	ctx, span := tracer.Start(ctx, "http-driver.click")
	defer span.End()

	sel, err := d.find(selector)
	if err != nil {
		return err
	}

	if goquery.NodeName(sel) == "a" {
		href, ok := sel.Attr("href")
		if !ok {
			return nil
		}
		target, err := d.resolve(href)
		if err != nil {
			return err
		}
		return d.get(ctx, target.String())
	}

	form := sel.Closest("form")
	if form.Length() == 0 {
		return fmt.Errorf("%q is neither a link nor inside a form", selector)
	}
	return d.submit(ctx, form, sel)
}

// formValues serializes a form the way a browser would on submit, only the
// clicked submitter contributes its own name/value.
func formValues(form *goquery.Selection, submitter *goquery.Selection) url.Values {
	values := url.Values{}
	form.Find("input, select, textarea, button").Each(func(_ int, field *goquery.Selection) {
		name, ok := field.Attr("name")
		if !ok || name == "" {
			return
		}
		if _, disabled := field.Attr("disabled"); disabled {
			return
		}

		tag := goquery.NodeName(field)
		kind := strings.ToLower(field.AttrOr("type", ""))
		switch {
		case tag == "button" || kind == "submit" || kind == "image":
			if submitter != nil && len(submitter.Nodes) > 0 && field.Nodes[0] == submitter.Nodes[0] {
				values.Add(name, field.AttrOr("value", ""))
			}
		case tag == "textarea":
			values.Add(name, field.Text())
		case tag == "select":
			option := field.Find("option[selected]").First()
			if option.Length() == 0 {
				option = field.Find("option").First()
			}
			if option.Length() > 0 {
				values.Add(name, option.AttrOr("value", option.Text()))
			}
		case kind == "checkbox" || kind == "radio":
			if _, checked := field.Attr("checked"); checked {
				values.Add(name, field.AttrOr("value", "on"))
			}
		case kind == "file" || kind == "reset":
		default:
			values.Add(name, field.AttrOr("value", ""))
		}
	})
	return values
}

func (d *httpDriver) submit(ctx context.Context, form *goquery.Selection, submitter *goquery.Selection) error {
	action := form.AttrOr("action", "")
	target, err := d.resolve(action)
	if err != nil {
		return err
	}
	values := formValues(form, submitter)

	req := d.client.R().SetContext(ctx)
	var res *resty.Response
	if strings.EqualFold(form.AttrOr("method", http.MethodGet), http.MethodPost) {
		res, err = req.SetFormDataFromValues(values).Post(target.String())
	} else {
		target.RawQuery = values.Encode()
		res, err = req.Get(target.String())
	}
	if err != nil {
		return err
	}
	return d.load(res)
}

func (d *httpDriver) Close() error {
	d.closed = true
	d.doc = nil
	return nil
}
