// Package roster fetches the roster of a station, an HTML table of the
// delivery partners scheduled for the day.
package roster

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
	"routine-desk/lib/htmlutil"
	"routine-desk/lib/retry"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("routine-desk/internal/roster")

const SelectorTable = "#cspDATable"

// minCells is the number of cells a data row has at least.
const minCells = 7

type Row struct {
	Station     string
	DpId        string
	Name        string
	Status      string
	ServiceType string
	Start       string
	End         string
	Cycle       string
}

func (r Row) empty() bool {
	return r.DpId == "" && r.Name == "" && r.Status == "" && r.ServiceType == "" &&
		r.Start == "" && r.End == "" && r.Cycle == ""
}

// Parse reads the rows of the roster table, the first row is the header.
// Rows with fewer than 7 cells or with only empty cells are skipped.
func Parse(station, tableHtml string) ([]Row, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(tableHtml))
	if err != nil {
		return nil, err
	}

	rows := []Row{}
	doc.Find("tr").Each(func(i int, tr *goquery.Selection) {
		if i == 0 {
			return
		}
		cells := htmlutil.CellTexts(tr)
		if len(cells) < minCells {
			return
		}
		row := Row{
			Station:     station,
			DpId:        cells[0],
			Name:        cells[1],
			Status:      cells[2],
			ServiceType: cells[3],
			Start:       cells[5],
			End:         cells[6],
			Cycle:       cells[len(cells)-1],
		}
		if row.empty() {
			return
		}
		rows = append(rows, row)
	})
	return rows, nil
}

type Fetcher struct {
	BaseUrl  string
	Wait     time.Duration
	Attempts uint
	Backoff  time.Duration
	Clock    chrono.API
}

func (f Fetcher) Kind() string {
	return "roster"
}

func (f Fetcher) Url(serviceAreaId string, day time.Time) string {
	query := url.Values{}
	query.Set("serviceAreaId", serviceAreaId)
	query.Set("date", day.Format(chrono.QueryDateLayout))
	return fmt.Sprintf(
		"%s/capacity/rosterview?%s",
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

func (f Fetcher) Attempt(ctx context.Context, driver browser.Driver, station, serviceAreaId string, attempt uint) ([]Row, error) {
	ctx, span := tracer.Start(ctx, "fetcher.attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("station", station),
		attribute.Int("attempt", int(attempt)),
	)

	err := browser.Load(ctx, driver, f.Url(serviceAreaId, f.Clock.Now()), attempt > 1)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load roster page")
		return nil, err
	}

	err = driver.WaitVisible(ctx, SelectorTable, f.Wait)
	if err != nil {
		if errors.Is(session.DetectSignedOut(ctx, driver), session.ErrSignedOut) {
			return nil, retry.Unrecoverable(session.ErrSignedOut)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "roster table did not appear")
		return nil, err
	}

	tableHtml, err := driver.OuterHTML(ctx, SelectorTable)
	if err != nil {
		return nil, err
	}
	rows, err := Parse(station, tableHtml)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse roster table")
		return nil, err
	}
	if len(rows) == 0 {
		return nil, retry.ErrEmpty
	}
	span.SetAttributes(attribute.Int("rows", len(rows)))
	return rows, nil
}
