package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"routine-desk/internal/batch"
	"routine-desk/internal/browser"
	"routine-desk/internal/config"
	"routine-desk/internal/cortex"
	"routine-desk/internal/credentials"
	"routine-desk/internal/journal"
	"routine-desk/internal/marker"
	"routine-desk/internal/roster"
	"routine-desk/internal/session"
	"routine-desk/internal/stations"
	"routine-desk/lib/chrono"
	"routine-desk/lib/osutil"
	"routine-desk/lib/restyutil"
	"routine-desk/lib/telemetry"
)

// app is everything a fetch needs, built once per command from cfg.
type app struct {
	tel      telemetry.API
	clock    chrono.API
	launcher browser.Launcher
	gate     *session.Gate
	stations *stations.Cache
	close    func()
}

func newApp() app {
	tel := telemetry.SlogAPI{}

	clock, err := chrono.NewStandardImpl(cfg.Timezone)
	if err != nil {
		osutil.Fatal("failed to load timezone", err)
	}

	launcher, closeLauncher, err := newLauncher(tel)
	if err != nil {
		osutil.Fatal("failed to create browser launcher", err)
	}

	gate := session.NewGate(
		session.Options{
			LoginUrl:   cfg.Session.LoginUrl,
			Wait:       config.Duration(cfg.Session.Wait),
			SignInText: cfg.Session.SignInText,
			ProfileDir: cfg.ProfileDir,
			Username:   credentials.Username,
			Secret: func() (string, error) {
				return credentials.Secret(cfg.Session.SecretPath, cfg.Session.SecretEncoding)
			},
		},
		marker.New(cfg.Session.MarkerPath),
		launcher,
		clock,
		tel,
	)

	return app{
		tel:      tel,
		clock:    clock,
		launcher: launcher,
		gate:     gate,
		stations: stations.NewCache(cfg.Stations.CsvPath, config.Duration(cfg.Stations.CacheTtl)),
		close:    closeLauncher,
	}
}

func newLauncher(tel telemetry.API) (browser.Launcher, func(), error) {
	switch cfg.Driver {
	case config.DriverHttp:
		store, err := browser.OpenCookieStore(browser.CookieStoreDir(cfg.ProfileDir))
		if err != nil {
			return nil, nil, err
		}
		launcher := browser.HttpLauncher{
			Store:            store,
			BypassCloudflare: cfg.Http.BypassCloudflare,
			Tel:              tel,
		}
		if cfg.Http.DumpDir != "" {
			dump, err := restyutil.NewFilesystemOutput(cfg.Http.DumpDir)
			if err != nil {
				store.Close()
				return nil, nil, err
			}
			launcher.Dump = dump
		}
		return launcher, func() { store.Close() }, nil
	default:
		return browser.ChromeLauncher{ProfileDir: cfg.ProfileDir, Tel: tel}, func() {}, nil
	}
}

func (a app) cortexFetcher(flexOnly bool) cortex.Fetcher {
	filter := cortex.Filter{}
	if flexOnly || cfg.Cortex.FlexOnly {
		filter.CompanyName = cfg.Cortex.CompanyName
	}
	return cortex.Fetcher{
		BaseUrl:  cfg.Logistics.BaseUrl,
		Wait:     config.Duration(cfg.Cortex.Wait),
		Attempts: cfg.Cortex.Attempts,
		Backoff:  config.Duration(cfg.Cortex.Backoff),
		Filter:   filter,
		Clock:    a.clock,
	}
}

func (a app) rosterFetcher() roster.Fetcher {
	return roster.Fetcher{
		BaseUrl:  cfg.Logistics.BaseUrl,
		Wait:     config.Duration(cfg.Roster.Wait),
		Attempts: cfg.Roster.Attempts,
		Backoff:  config.Duration(cfg.Roster.Backoff),
		Clock:    a.clock,
	}
}

func newRunner[R any](a app, fetcher batch.Fetcher[R], workers int, observer batch.Observer) *batch.Runner[R] {
	if workers == 0 {
		workers = cfg.Batch.Workers
	}
	return &batch.Runner[R]{
		Fetcher:   fetcher,
		Directory: a.stations,
		Launcher:  a.launcher,
		Auth:      a.gate,
		Workers:   config.ClampWorkers(workers),
		Stagger:   config.Duration(cfg.Batch.Stagger),
		Observer:  observer,
		Tel:       a.tel,
	}
}

func openJournal(ctx context.Context) journal.Journal {
	db, err := cfg.Journal.OpenDB()
	if err != nil {
		osutil.Fatal("failed to open journal", err)
	}
	j, err := journal.Open(ctx, db)
	if err != nil {
		db.Close()
		osutil.Fatal("failed to open journal", err)
	}
	return j
}

// stationInput collects station codes from args, stdin and the last run of
// kind, in that order.
type stationInput struct {
	args  []string
	stdin io.Reader
	last  bool
}

func (in stationInput) codes(ctx context.Context, kind string, j journal.Journal) ([]string, error) {
	codes := []string{}
	for _, arg := range in.args {
		codes = append(codes, batch.SplitCodes(arg)...)
	}
	if in.stdin != nil {
		scanner := bufio.NewScanner(in.stdin)
		for scanner.Scan() {
			codes = append(codes, batch.SplitCodes(scanner.Text())...)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
	}
	if in.last {
		last, err := journal.LastInput(ctx, j, kind)
		if err != nil {
			return nil, err
		}
		if len(last) == 0 {
			return nil, fmt.Errorf("there is no previous %s run to reuse", kind)
		}
		codes = append(codes, last...)
	}
	codes = batch.Dedupe(codes)
	if len(codes) == 0 {
		return nil, fmt.Errorf("no station codes given")
	}
	return codes, nil
}

func joinCodes(codes []string) string {
	return strings.Join(codes, ", ")
}
