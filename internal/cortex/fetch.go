// Package cortex fetches the delivery summaries of a station, a JSON payload
// the logistics site renders inside a <pre>.
package cortex

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"routine-desk/internal/browser"
	"routine-desk/internal/session"
	"routine-desk/lib/chrono"
	"routine-desk/lib/retry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("routine-desk/internal/cortex")

const SelectorPayload = "pre"

type Fetcher struct {
	BaseUrl  string
	Wait     time.Duration
	Attempts uint
	Backoff  time.Duration
	Filter   Filter
	Clock    chrono.API
}

func (f Fetcher) Kind() string {
	return "cortex"
}

// Url is the summaries endpoint of a service area on a given day.
func (f Fetcher) Url(serviceAreaId string, day time.Time) string {
	query := url.Values{}
	query.Set("historicalDay", "false")
	query.Set("localDate", day.Format(chrono.QueryDateLayout))
	query.Set("serviceAreaId", serviceAreaId)
	return fmt.Sprintf(
		"%s/operations/execution/api/summaries?%s",
		strings.TrimSuffix(f.BaseUrl, "/"),
		query.Encode(),
	)
}

func (f Fetcher) Policy() retry.Policy {
	return retry.Policy{
		Attempts: f.Attempts,
		Backoff:  f.Backoff,
	}
}

// Attempt loads the payload once, attempt 1 navigates and later ones reload
// the page. No rows is retry.ErrEmpty.
func (f Fetcher) Attempt(ctx context.Context, driver browser.Driver, station, serviceAreaId string, attempt uint) ([]Row, error) {
	ctx, span := tracer.Start(ctx, "fetcher.attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("station", station),
		attribute.Int("attempt", int(attempt)),
	)

	rows, err := f.attempt(ctx, driver, station, serviceAreaId, attempt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attempt failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("rows", len(rows)))
	return rows, nil
}

func (f Fetcher) attempt(ctx context.Context, driver browser.Driver, station, serviceAreaId string, attempt uint) ([]Row, error) {
	err := browser.Load(ctx, driver, f.Url(serviceAreaId, f.Clock.Now()), attempt > 1)
	if err != nil {
		return nil, err
	}

	err = driver.WaitVisible(ctx, SelectorPayload, f.Wait)
	if err != nil {
		if errors.Is(session.DetectSignedOut(ctx, driver), session.ErrSignedOut) {
			return nil, retry.Unrecoverable(session.ErrSignedOut)
		}
		return nil, err
	}

	text, err := driver.Text(ctx, SelectorPayload)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, retry.ErrEmpty
	}

	rows, err := Parse(station, text, f.Filter)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, retry.ErrEmpty
	}
	return rows, nil
}
