// Package batch fetches many stations at once. Every station runs in its own
// task with its own headless browser, at most Workers tasks run at a time,
// and no station's failure stops the others.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"routine-desk/internal/browser"
	"routine-desk/internal/session"
	"routine-desk/internal/stations"
	"routine-desk/lib/retry"
	"routine-desk/lib/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("routine-desk/internal/batch")
var meter = otel.Meter("routine-desk/internal/batch")
var stationOutcomes, _ = meter.Int64Counter("station_outcomes")
var batchRuns, _ = meter.Int64Counter("batch_runs")

// Fetcher fetches the rows of one station, one attempt at a time.
type Fetcher[R any] interface {
	// Kind names the fetcher in logs and the journal.
	Kind() string
	Policy() retry.Policy
	// Attempt is called with attempt 1 on a freshly launched driver, or
	// after an attempt failed with browser.ErrLoad, and counts up while the
	// same page stays loaded.
	Attempt(ctx context.Context, driver browser.Driver, station, serviceAreaId string, attempt uint) ([]R, error)
}

// Authenticator is the session gate as seen by the runner.
type Authenticator interface {
	Ensure(ctx context.Context) (session.Outcome, error)
}

// Invalidator is implemented by authenticators that can forget a session a
// fetch found to be signed out.
type Invalidator interface {
	Invalidate() error
}

type Outcome[R any] struct {
	Station  string
	State    State
	Attempts uint
	Rows     []R
	Err      error
	Took     time.Duration
}

type Result[R any] struct {
	Kind string
	// Outcomes are in input order, one per deduplicated code.
	Outcomes []Outcome[R]
	Auth     session.Outcome
}

// Tables returns the rows of every station in input order.
func (r Result[R]) Tables() [][]R {
	out := make([][]R, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		out = append(out, o.Rows)
	}
	return out
}

// Count returns the number of stations that ended in state.
func (r Result[R]) Count(state State) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == state {
			n++
		}
	}
	return n
}

type Runner[R any] struct {
	Fetcher   Fetcher[R]
	Directory stations.Source
	Launcher  browser.Launcher
	// Auth runs before dispatch when set, a failure aborts the batch.
	Auth Authenticator
	// Workers is clamped into [1, 16], 0 means 4.
	Workers int
	// Stagger spaces out task starts, 0 starts them as fast as the pool allows.
	Stagger  time.Duration
	Observer Observer
	Tel      telemetry.API
}

func (r *Runner[R]) workers() int {
	switch {
	case r.Workers == 0:
		return 4
	case r.Workers < 1:
		return 1
	case r.Workers > 16:
		return 16
	}
	return r.Workers
}

// Run authenticates, then fetches every deduplicated code. The returned
// error is only ever an authentication or directory error, in which case
// no station was dispatched.
func (r *Runner[R]) Run(ctx context.Context, input []string) (Result[R], error) {
	stationCodes := Dedupe(input)
	result := Result[R]{Kind: r.Fetcher.Kind(), Outcomes: make([]Outcome[R], len(stationCodes))}
	tel := telemetry.NewScopedAPI("batch", r.Tel)

	ctx, span := tracer.Start(ctx, "runner.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("kind", result.Kind),
		attribute.Int("stations", len(stationCodes)),
		attribute.Int("workers", r.workers()),
	)
	batchRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", result.Kind)))

	if r.Auth != nil {
		auth, err := r.Auth.Ensure(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "authentication failed")
			return result, err
		}
		result.Auth = auth
	}

	dir, err := r.Directory.Directory()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load station directory")
		return result, fmt.Errorf("load station directory: %w", err)
	}

	progress := &progress{observer: r.Observer, total: len(stationCodes)}

	var limiter *rate.Limiter
	if r.Stagger > 0 {
		limiter = rate.NewLimiter(rate.Every(r.Stagger), 1)
	}

	group := errgroup.Group{}
	group.SetLimit(r.workers())
	for i, code := range stationCodes {
		result.Outcomes[i] = Outcome[R]{Station: code, State: Pending}

		if limiter != nil {
			err := limiter.Wait(ctx)
			if err != nil {
				result.Outcomes[i] = finish(progress, Outcome[R]{Station: code, State: Exhausted, Err: err})
				continue
			}
		}
		if ctx.Err() != nil {
			result.Outcomes[i] = finish(progress, Outcome[R]{Station: code, State: Exhausted, Err: ctx.Err()})
			continue
		}

		group.Go(func() error {
			result.Outcomes[i] = finish(progress, r.runStation(ctx, dir, code, progress, tel))
			return nil
		})
	}
	_ = group.Wait()

	signedOut := false
	for _, o := range result.Outcomes {
		stationOutcomes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", result.Kind),
			attribute.String("state", o.State.String()),
		))
		if errors.Is(o.Err, session.ErrSignedOut) {
			signedOut = true
		}
	}
	if signedOut {
		tel.ReportWarning("runner.run", "a station was signed out by the identity provider, the session marker is cleared")
		if invalidator, ok := r.Auth.(Invalidator); ok {
			err := invalidator.Invalidate()
			if err != nil {
				tel.ReportBroken("runner.run", err)
			}
		}
	}

	tel.ReportCount(fmt.Sprintf("%s.succeeded", result.Kind), int64(result.Count(Success)))
	tel.ReportCount(fmt.Sprintf("%s.exhausted", result.Kind), int64(result.Count(Exhausted)))
	tel.ReportCount(fmt.Sprintf("%s.failed", result.Kind), int64(result.Count(Failed)))
	return result, nil
}

func (r *Runner[R]) runStation(ctx context.Context, dir stations.Directory, code string, progress *progress, tel telemetry.API) (out Outcome[R]) {
	start := time.Now()
	out = Outcome[R]{Station: code, State: Pending}

	ctx, span := tracer.Start(ctx, "runner.run-station")
	defer span.End()
	span.SetAttributes(attribute.String("station", code))

	defer func() {
		out.Took = time.Since(start)
		if recovered := recover(); recovered != nil {
			out.State = Exhausted
			out.Rows = nil
			out.Err = fmt.Errorf("panic while fetching %s: %v", code, recovered)
			tel.ReportBroken("runner.run-station", out.Err)
		}
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.State.String())
		}
	}()

	areaId, err := dir.Lookup(code)
	if err != nil {
		out.State = Failed
		out.Err = err
		tel.ReportWarning("runner.run-station", "lookup", code, err)
		return out
	}

	var driver browser.Driver
	var driverAttempt uint
	defer func() {
		if driver != nil {
			closeErr := driver.Close()
			if closeErr != nil {
				tel.ReportWarning("runner.run-station", "close driver", code, closeErr)
			}
		}
	}()

	policy := r.Fetcher.Policy()
	policy.OnRetry = func(n uint, err error) {
		state := ErrorRetry
		if errors.Is(err, retry.ErrEmpty) {
			state = EmptyRetry
		}
		tel.ReportDebug("runner.run-station", "station", code, "attempt", n, "state", state.String(), "err", err)
		progress.emit(Event{Kind: Retrying, Station: code, State: state, Attempt: n, Err: err})
	}

	out.State = Fetching
	progress.emit(Event{Kind: Started, Station: code, State: Fetching})

	rows, err := retry.Do(ctx, policy, func(ctx context.Context, attempt uint) ([]R, error) {
		out.Attempts = attempt
		if driver == nil {
			launched, err := r.Launcher.Launch(ctx, browser.LaunchOptions{Headless: true})
			if err != nil {
				return nil, fmt.Errorf("launch browser: %w", err)
			}
			driver = launched
		}
		driverAttempt++

		rows, err := r.Fetcher.Attempt(ctx, driver, code, areaId, driverAttempt)
		if errors.Is(err, browser.ErrLoad) {
			driverAttempt = 0
		}
		return rows, err
	})
	if err != nil {
		out.State = Exhausted
		out.Err = err
		tel.ReportWarning("runner.run-station", "exhausted", code, err)
		return out
	}

	out.State = Success
	out.Rows = rows
	return out
}

// progress counts finished stations and serializes observer calls, the
// count and the event carrying it change under one lock.
type progress struct {
	observer  Observer
	total     int
	mutex     sync.Mutex
	completed int
}

func (p *progress) emit(event Event) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if event.Kind == Finished {
		p.completed++
	}
	if p.observer == nil {
		return
	}
	event.Total = p.total
	event.Completed = p.completed
	p.observer.Observe(event)
}

// finish counts a terminal outcome and reports it, the counter reaches
// total exactly once.
func finish[R any](p *progress, outcome Outcome[R]) Outcome[R] {
	p.emit(Event{
		Kind:    Finished,
		Station: outcome.Station,
		State:   outcome.State,
		Attempt: outcome.Attempts,
		Rows:    len(outcome.Rows),
		Err:     outcome.Err,
	})
	return outcome
}
