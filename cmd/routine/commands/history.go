package commands

import (
	"os"
	"time"

	"routine-desk/lib/osutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	historyLimit *int
	historyRun   *string
)

func init() {
	historyLimit = historyCmd.Flags().IntP("limit", "n", 20, "The number of runs to list.")
	historyRun = historyCmd.Flags().String("run", "", "List the station outcomes of a single run.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [--limit N] [--run <id>]",
	Short: "Lists recent runs from the journal.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		j := openJournal(ctx)
		defer j.Close()

		t := table.NewWriter()
		t.SetStyle(table.StyleRounded)
		t.SetOutputMirror(os.Stdout)

		if *historyRun != "" {
			outcomes, err := j.Outcomes(ctx, *historyRun)
			if err != nil {
				osutil.Fatal("failed to read run", err)
			}
			t.SetTitle(*historyRun)
			t.AppendHeader(table.Row{"Station", "State", "Attempts", "Rows", "Error"})
			for _, o := range outcomes {
				t.AppendRow(table.Row{o.Station, o.State, o.Attempts, o.Rows, o.Error})
			}
			t.Render()
			return
		}

		runs, err := j.Runs(ctx, *historyLimit)
		if err != nil {
			osutil.Fatal("failed to read journal", err)
		}
		t.AppendHeader(table.Row{"Id", "Kind", "Started", "Took", "Stations", "Succeeded", "Exhausted", "Failed"})
		for _, run := range runs {
			t.AppendRow(table.Row{
				run.Id,
				run.Kind,
				run.StartedAt.Format("2006-01-02 15:04"),
				run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String(),
				run.Stations,
				run.Succeeded,
				run.Exhausted,
				run.Failed,
			})
		}
		t.Render()
	},
}
