package commands

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"routine-desk/internal/batch"
	"routine-desk/internal/cortex"
	"routine-desk/internal/journal"
	"routine-desk/internal/notify"
	"routine-desk/internal/report"
	"routine-desk/internal/roster"
	"routine-desk/lib/chrono"
	"routine-desk/lib/osutil"
	"routine-desk/lib/telemetry"

	"github.com/spf13/cobra"
)

var (
	watchCron     *string
	watchMail     *bool
	watchWorkers  *int
	watchFlexOnly *bool
)

func init() {
	watchCron = watchCmd.Flags().String("cron", "*/15 6-22 * * *", "When to fetch, a cron expression in the configured timezone.")
	watchMail = watchCmd.Flags().Bool("mail", false, "Mail every report to mail.to.")
	watchWorkers = watchCmd.Flags().IntP("workers", "w", 0, "Stations fetched at the same time (1-16), defaults to batch.workers.")
	watchFlexOnly = watchCmd.Flags().Bool("flex-only", false, "Keep only the itineraries of cortex.company_name.")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:       "watch cortex|roster [codes...] --cron <spec> [--mail]",
	Short:     "Fetches stations on a schedule until interrupted.",
	Args:      cobra.MinimumNArgs(1),
	ValidArgs: []string{"cortex", "roster"},
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		err := cfg.RequireLogistics()
		if err != nil {
			osutil.Fatal("cannot watch", err)
		}

		var mailer *notify.Mailer
		if *watchMail {
			m, err := notify.NewMailer(cfg.Mail)
			if err != nil {
				osutil.Fatal("cannot mail reports", err)
			}
			mailer = &m
		}

		a := newApp()
		defer a.close()
		j := openJournal(ctx)
		defer j.Close()

		codes, err := stationInput{args: args[1:], last: len(args) == 1}.codes(ctx, args[0], j)
		if err != nil {
			osutil.Fatal("no stations to watch", err)
		}

		var tick func()
		switch args[0] {
		case "cortex":
			tick = watchTick(ctx, a, j, mailer, a.cortexFetcher(*watchFlexOnly), codes, func(rows []cortex.Row) report.Table {
				return report.CortexTable(rows)
			})
		case "roster":
			tick = watchTick(ctx, a, j, mailer, a.rosterFetcher(), codes, func(rows []roster.Row) report.Table {
				return report.RosterTable(rows)
			})
		default:
			osutil.Fatal(fmt.Sprintf("unknown kind %q, expected cortex or roster", args[0]), nil)
		}

		telemetry.InstrumentPerfStats(ctx, 30*time.Second)
		cron := chrono.NewStandardCron(a.clock, a.tel)
		err = cron.Cron(*watchCron, tick)
		if err != nil {
			osutil.Fatal("invalid --cron", err)
		}
		slog.Info("watching", "kind", args[0], "stations", joinCodes(codes), "cron", *watchCron)

		<-ctx.Done()
		cron.Stop()
	},
}

func watchTick[R any](ctx context.Context, a app, j journal.Journal, mailer *notify.Mailer, fetcher batch.Fetcher[R], codes []string, tabulate func([]R) report.Table) func() {
	return func() {
		result, err := runAndRecord(ctx, j, a, fetcher, *watchWorkers, nil, codes)
		if err != nil {
			a.tel.ReportBroken("watch.tick", err)
			return
		}
		err = writeResult(os.Stdout, report.FormatTable, result, tabulate)
		if err != nil {
			a.tel.ReportBroken("watch.tick", err)
		}
		if mailer == nil {
			return
		}

		msg, err := mailReport(a, result, tabulate)
		if err != nil {
			a.tel.ReportBroken("watch.tick", err)
			return
		}
		err = mailer.Send(ctx, msg)
		if err != nil {
			a.tel.ReportBroken("watch.tick", err)
		}
	}
}

func mailReport[R any](a app, result batch.Result[R], tabulate func([]R) report.Table) (notify.Message, error) {
	summary := report.Summarize(result)
	rows := report.Combine(result.Tables())

	var text, html bytes.Buffer
	html.WriteString("<h3>stations</h3>\n")
	err := summary.Table().Render(&html, report.FormatHtml)
	if err != nil {
		return notify.Message{}, err
	}
	err = summary.Table().Render(&text, report.FormatCsv)
	if err != nil {
		return notify.Message{}, err
	}
	if len(rows) > 0 {
		html.WriteString("<h3>rows</h3>\n")
		err = tabulate(rows).Render(&html, report.FormatHtml)
		if err != nil {
			return notify.Message{}, err
		}
		text.WriteString("\n")
		err = tabulate(rows).Render(&text, report.FormatCsv)
		if err != nil {
			return notify.Message{}, err
		}
	}

	return notify.Message{
		Subject: fmt.Sprintf(
			"%s %s: %d rows, %d of %d stations ok",
			result.Kind,
			a.clock.Now().Format("15:04"),
			summary.Total,
			result.Count(batch.Success),
			len(result.Outcomes),
		),
		Text: text.String(),
		Html: html.String(),
	}, nil
}
