// Package report turns batch results into tables for the terminal, CSV
// pipes and the HTML dashboard.
package report

import (
	"fmt"
	"io"
	"strconv"

	"routine-desk/internal/batch"
	"routine-desk/internal/cortex"
	"routine-desk/internal/roster"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type Format string

const (
	FormatTable    Format = "table"
	FormatCsv      Format = "csv"
	FormatHtml     Format = "html"
	FormatMarkdown Format = "markdown"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatTable, FormatCsv, FormatHtml, FormatMarkdown:
		return Format(s), nil
	case "":
		return FormatTable, nil
	}
	return "", fmt.Errorf("unknown format %q, expected table, csv, html or markdown", s)
}

// Table is a rendered-agnostic table of strings.
type Table struct {
	Title  string
	Header []string
	Rows   [][]string
	// Colors colors the cells of a column by value in terminal output.
	Colors map[string]map[string]text.Colors
}

// Combine concatenates tables in order, empty ones are skipped.
func Combine[R any](tables [][]R) []R {
	out := []R{}
	for _, t := range tables {
		out = append(out, t...)
	}
	return out
}

var riskColors = map[string]text.Colors{
	string(cortex.RiskRed):    {text.FgRed},
	string(cortex.RiskYellow): {text.FgYellow},
	string(cortex.RiskBlue):   {text.FgBlue},
}

func CortexTable(rows []cortex.Row) Table {
	t := Table{
		Title:  "Delivery summary",
		Header: []string{"Station", "Name", "Routes", "Transporter ID", "Phone", "Risk", "Total", "Completed", "Status"},
		Colors: map[string]map[string]text.Colors{"Risk": riskColors},
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			r.Station,
			r.Name,
			r.Routes,
			r.TransporterId,
			NormalizePhone(r.Phone),
			string(r.Risk),
			strconv.Itoa(r.TotalDeliveries),
			strconv.Itoa(r.CompletedDeliveries),
			r.Status,
		})
	}
	return t
}

func RosterTable(rows []roster.Row) Table {
	t := Table{
		Title:  "Roster",
		Header: []string{"Station", "DP ID", "Name", "Status", "Service type", "Start", "End", "Cycle"},
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{r.Station, r.DpId, r.Name, r.Status, r.ServiceType, r.Start, r.End, r.Cycle})
	}
	return t
}

func (t Table) writer(format Format) table.Writer {
	w := table.NewWriter()
	w.SetStyle(table.StyleRounded)
	if format == FormatTable && t.Title != "" {
		w.SetTitle(t.Title)
	}

	header := table.Row{}
	for _, h := range t.Header {
		header = append(header, h)
	}
	w.AppendHeader(header)
	for _, r := range t.Rows {
		row := table.Row{}
		for _, cell := range r {
			row = append(row, cell)
		}
		w.AppendRow(row)
	}

	if format == FormatTable && len(t.Colors) > 0 {
		configs := []table.ColumnConfig{}
		for column, colors := range t.Colors {
			colors := colors
			configs = append(configs, table.ColumnConfig{
				Name: column,
				Transformer: func(val interface{}) string {
					s := fmt.Sprint(val)
					c, ok := colors[s]
					if !ok {
						return s
					}
					return c.Sprint(s)
				},
			})
		}
		w.SetColumnConfigs(configs)
	}
	return w
}

// Render writes the table in the given format.
func (t Table) Render(out io.Writer, format Format) error {
	w := t.writer(format)
	var rendered string
	switch format {
	case FormatTable, "":
		rendered = w.Render()
	case FormatCsv:
		rendered = w.RenderCSV()
	case FormatHtml:
		rendered = w.RenderHTML()
	case FormatMarkdown:
		rendered = w.RenderMarkdown()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	_, err := fmt.Fprintln(out, rendered)
	return err
}

type StationCount struct {
	Station  string
	State    batch.State
	Attempts uint
	Rows     int
	Err      error
}

// Summary counts rows in total and per station.
type Summary struct {
	Kind       string
	Total      int
	PerStation []StationCount
}

func Summarize[R any](result batch.Result[R]) Summary {
	s := Summary{Kind: result.Kind}
	for _, o := range result.Outcomes {
		s.Total += len(o.Rows)
		s.PerStation = append(s.PerStation, StationCount{
			Station:  o.Station,
			State:    o.State,
			Attempts: o.Attempts,
			Rows:     len(o.Rows),
			Err:      o.Err,
		})
	}
	return s
}

// Table renders the per-station counts.
func (s Summary) Table() Table {
	t := Table{
		Title:  fmt.Sprintf("%s: %d rows", s.Kind, s.Total),
		Header: []string{"Station", "State", "Attempts", "Rows", "Error"},
		Colors: map[string]map[string]text.Colors{"State": {
			batch.Success.String():   {text.FgGreen},
			batch.Exhausted.String(): {text.FgYellow},
			batch.Failed.String():    {text.FgRed},
		}},
	}
	for _, c := range s.PerStation {
		errText := ""
		if c.Err != nil {
			errText = c.Err.Error()
		}
		t.Rows = append(t.Rows, []string{
			c.Station,
			c.State.String(),
			strconv.Itoa(int(c.Attempts)),
			strconv.Itoa(c.Rows),
			errText,
		})
	}
	return t
}

// Warnings lists a line for every station that did not succeed.
func (s Summary) Warnings() []string {
	out := []string{}
	for _, c := range s.PerStation {
		switch c.State {
		case batch.Exhausted:
			out = append(out, fmt.Sprintf("%s: no data after %d attempts (%v)", c.Station, c.Attempts, c.Err))
		case batch.Failed:
			out = append(out, fmt.Sprintf("%s: %v", c.Station, c.Err))
		}
	}
	return out
}
