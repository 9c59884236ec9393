package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"routine-desk/internal/config"
	"routine-desk/lib/osutil"
	"routine-desk/lib/telemetry"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"
)

var (
	configPath  *string
	verbose     *bool
	profileMode *string
)

// set by PersistentPreRun, every command reads them
var (
	cfg       config.Config
	providers telemetry.Telemetry
	profiling interface{ Stop() }
)

var rootCmd = &cobra.Command{
	Use:   "routine",
	Short: "routine fetches delivery summaries and rosters of many stations at once.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*verbose)

		var err error
		providers, err = telemetry.SetupFromEnv(cmd.Context(), "routine")
		if err != nil {
			osutil.Fatal("failed to setup telemetry", err)
		}

		switch *profileMode {
		case "":
		case "cpu":
			profiling = profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.Quiet)
		case "mem":
			profiling = profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.Quiet)
		default:
			osutil.Fatal(fmt.Sprintf("unknown profile mode %q, expected cpu or mem", *profileMode), nil)
		}

		cfg, err = config.Load(*configPath)
		if err != nil {
			osutil.Fatal("failed to load config", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if profiling != nil {
			profiling.Stop()
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 5*time.Second)
		defer cancel()
		err := providers.Shutdown(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to flush telemetry:", err)
		}
	},
}

func init() {
	configPath = rootCmd.PersistentFlags().String("config", "routine.json5", "The config file, routine.local.json5 next to it overrides it.")
	verbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug messages.")
	profileMode = rootCmd.PersistentFlags().String("profile", "", "Write a cpu or mem profile to the cwd.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
