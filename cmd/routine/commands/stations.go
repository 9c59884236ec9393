package commands

import (
	"errors"
	"fmt"
	"os"

	"routine-desk/internal/stations"
	"routine-desk/lib/osutil"
	"routine-desk/lib/telemetry"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	stationsCmd.AddCommand(stationsSyncCmd, stationsLookupCmd)
	rootCmd.AddCommand(stationsCmd)
}

var stationsCmd = &cobra.Command{
	Use:   "stations",
	Short: "Manages the station directory.",
}

var stationsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Downloads the station document and rewrites the station directory.",
	Run: func(cmd *cobra.Command, args []string) {
		syncer := stations.NewSyncer(cfg.Stations.SourceUrl, cfg.Stations.CsvPath, telemetry.SlogAPI{})
		count, err := syncer.Sync(cmd.Context())
		if err != nil {
			osutil.Fatal("failed to sync stations", err)
		}
		fmt.Printf("wrote %d stations to %s\n", count, cfg.Stations.CsvPath)
	},
}

var stationsLookupCmd = &cobra.Command{
	Use:   "lookup <code>...",
	Short: "Prints the directory entry of station codes.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir, err := stations.Load(cfg.Stations.CsvPath)
		if err != nil {
			osutil.Fatal("failed to load station directory", err)
		}

		t := table.NewWriter()
		t.SetStyle(table.StyleRounded)
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Station", "Service area", "Provider", "Parent"})

		failed := false
		for _, code := range args {
			station, err := dir.Station(code)
			var lookupErr *stations.LookupError
			if errors.As(err, &lookupErr) {
				failed = true
				fmt.Fprintln(os.Stderr, lookupErr.Error())
				continue
			}
			if err != nil {
				osutil.Fatal("lookup failed", err)
			}
			t.AppendRow(table.Row{station.Code, station.ServiceAreaId, station.ProviderCode, station.ParentLocation})
		}
		if t.Length() > 0 {
			t.Render()
		}
		if failed {
			os.Exit(1)
		}
	},
}
