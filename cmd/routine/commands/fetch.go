package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"routine-desk/internal/batch"
	"routine-desk/internal/cortex"
	"routine-desk/internal/journal"
	"routine-desk/internal/report"
	"routine-desk/internal/roster"
	"routine-desk/lib/osutil"

	"github.com/spf13/cobra"
)

type fetchFlags struct {
	stdin    *bool
	last     *bool
	workers  *int
	format   *string
	flexOnly *bool
}

func addFetchFlags(cmd *cobra.Command) fetchFlags {
	return fetchFlags{
		stdin:   cmd.Flags().Bool("stdin", false, "Also read station codes from stdin."),
		last:    cmd.Flags().Bool("last", false, "Also fetch the stations of the last run."),
		workers: cmd.Flags().IntP("workers", "w", 0, "Stations fetched at the same time (1-16), defaults to batch.workers."),
		format:  cmd.Flags().StringP("format", "f", "table", "Output format: table, csv, html or markdown."),
	}
}

var (
	cortexFlags fetchFlags
	rosterFlags fetchFlags
)

func init() {
	cortexFlags = addFetchFlags(cortexCmd)
	cortexFlags.flexOnly = cortexCmd.Flags().Bool("flex-only", false, "Keep only the itineraries of cortex.company_name.")
	rosterFlags = addFetchFlags(rosterCmd)
	rootCmd.AddCommand(cortexCmd, rosterCmd)
}

var cortexCmd = &cobra.Command{
	Use:   "cortex [codes...] [--stdin] [--last] [--workers N] [--flex-only] [--format table|csv]",
	Short: "Fetches the delivery summaries of stations.",
	Run: func(cmd *cobra.Command, args []string) {
		a := newApp()
		defer a.close()
		runFetch(cmd, args, cortexFlags, a.cortexFetcher(*cortexFlags.flexOnly), a, func(rows []cortex.Row) report.Table {
			return report.CortexTable(rows)
		})
	},
}

var rosterCmd = &cobra.Command{
	Use:   "roster [codes...] [--stdin] [--last] [--workers N] [--format table|csv]",
	Short: "Fetches the rosters of stations.",
	Run: func(cmd *cobra.Command, args []string) {
		a := newApp()
		defer a.close()
		runFetch(cmd, args, rosterFlags, a.rosterFetcher(), a, func(rows []roster.Row) report.Table {
			return report.RosterTable(rows)
		})
	},
}

func runFetch[R any](cmd *cobra.Command, args []string, flags fetchFlags, fetcher batch.Fetcher[R], a app, tabulate func([]R) report.Table) {
	ctx := cmd.Context()

	err := cfg.RequireLogistics()
	if err != nil {
		osutil.Fatal("cannot fetch", err)
	}
	format, err := report.ParseFormat(*flags.format)
	if err != nil {
		osutil.Fatal("invalid --format", err)
	}

	j := openJournal(ctx)
	defer j.Close()

	in := stationInput{args: args, last: *flags.last}
	if *flags.stdin {
		in.stdin = os.Stdin
	}
	codes, err := in.codes(ctx, fetcher.Kind(), j)
	if err != nil {
		osutil.Fatal("no stations to fetch", err)
	}
	slog.Info("fetching", "kind", fetcher.Kind(), "stations", joinCodes(codes))

	live := newLiveProgress(os.Stderr, fetcher.Kind(), len(codes))
	result, err := runAndRecord(ctx, j, a, fetcher, *flags.workers, live, codes)
	live.Stop()
	if err != nil {
		osutil.Fatal("batch aborted", err)
	}

	err = writeResult(os.Stdout, format, result, tabulate)
	if err != nil {
		osutil.Fatal("failed to render result", err)
	}
}

// runAndRecord runs one batch and stores it in the journal, a journal error
// is logged and does not fail the batch.
func runAndRecord[R any](ctx context.Context, j journal.Journal, a app, fetcher batch.Fetcher[R], workers int, observer batch.Observer, codes []string) (batch.Result[R], error) {
	runner := newRunner(a, fetcher, workers, observer)
	started := a.clock.Now()
	result, err := runner.Run(ctx, codes)
	if err != nil {
		return result, err
	}
	id, err := journal.RecordResult(ctx, j, started, a.clock.Now(), result)
	if err != nil {
		a.tel.ReportWarning("journal.record", err)
	} else {
		slog.Debug("recorded run", "id", id)
	}
	return result, nil
}

// writeResult writes the combined table, the per-station summary goes to
// stderr so that csv output stays pipeable.
func writeResult[R any](out io.Writer, format report.Format, result batch.Result[R], tabulate func([]R) report.Table) error {
	summary := report.Summarize(result)
	for _, warning := range summary.Warnings() {
		slog.Warn(warning)
	}
	if format == report.FormatTable {
		err := summary.Table().Render(os.Stderr, report.FormatTable)
		if err != nil {
			return err
		}
	}

	rows := report.Combine(result.Tables())
	if len(rows) == 0 {
		fmt.Fprintln(os.Stderr, "no rows")
		return nil
	}
	return tabulate(rows).Render(out, format)
}
