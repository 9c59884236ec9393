package commands

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"routine-desk/internal/batch"
	"routine-desk/internal/journal"
	"routine-desk/internal/report"
	"routine-desk/lib/chrono"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func memoryJournal(t testing.TB) journal.Journal {
	db, err := sql.Open("sqlite", ":memory:")
	require.Nil(t, err)
	db.SetMaxOpenConns(1)
	j, err := journal.Open(context.Background(), db)
	require.Nil(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestStationInput(t *testing.T) {
	ctx := context.Background()
	j := memoryJournal(t)

	codes, err := stationInput{
		args:  []string{"dab1,DAB2", " dab1 "},
		stdin: strings.NewReader("DAB3\n\nDAB2, dab4\n"),
	}.codes(ctx, "cortex", j)
	require.Nil(t, err)
	require.Equal(t, []string{"DAB1", "DAB2", "DAB3", "DAB4"}, codes)

	_, err = stationInput{}.codes(ctx, "cortex", j)
	require.ErrorContains(t, err, "no station codes")

	_, err = stationInput{last: true}.codes(ctx, "cortex", j)
	require.ErrorContains(t, err, "no previous cortex run")

	require.Nil(t, j.Set(ctx, journal.LastInputKey("cortex"), "DAB9,DAB1"))
	codes, err = stationInput{args: []string{"DAB1"}, last: true}.codes(ctx, "cortex", j)
	require.Nil(t, err)
	require.Equal(t, []string{"DAB1", "DAB9"}, codes)
}

func TestMailReport(t *testing.T) {
	a := app{clock: chrono.NewFixedImpl(time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC))}
	result := batch.Result[string]{
		Kind: "roster",
		Outcomes: []batch.Outcome[string]{
			{Station: "DAB1", State: batch.Success, Attempts: 1, Rows: []string{"alice", "bob"}},
			{Station: "DAB2", State: batch.Exhausted, Attempts: 5, Err: errors.New("empty")},
		},
	}
	tabulate := func(rows []string) report.Table {
		t := report.Table{Header: []string{"Name"}}
		for _, r := range rows {
			t.Rows = append(t.Rows, []string{r})
		}
		return t
	}

	msg, err := mailReport(a, result, tabulate)
	require.Nil(t, err)
	require.Equal(t, "roster 09:30: 2 rows, 1 of 2 stations ok", msg.Subject)
	require.Contains(t, msg.Html, "<table")
	require.Contains(t, msg.Html, "alice")
	require.Contains(t, msg.Text, "DAB2")
	require.Contains(t, msg.Text, "bob")
}

func TestLiveProgress(t *testing.T) {
	live := newLiveProgress(io.Discard, "cortex", 2)
	live.Observe(batch.Event{Kind: batch.Started, Station: "DAB1"})
	live.Observe(batch.Event{Kind: batch.Retrying, Station: "DAB1", Attempt: 1})
	live.Observe(batch.Event{Kind: batch.Finished, Station: "DAB1", State: batch.Success, Rows: 3, Completed: 1, Total: 2})
	live.Observe(batch.Event{Kind: batch.Finished, Station: "XXX9", State: batch.Failed, Completed: 2, Total: 2})
	live.Stop()

	require.True(t, live.overall.IsDone())
	require.True(t, live.stations["DAB1"].IsDone())
	require.True(t, live.stations["XXX9"].IsErrored())
}
