package commands

import (
	"errors"
	"fmt"
	"log/slog"

	"routine-desk/internal/credentials"
	"routine-desk/internal/marker"
	"routine-desk/lib/chrono"
	"routine-desk/lib/osutil"

	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"
)

func init() {
	authCmd.AddCommand(authStatusCmd, authResetCmd, authStoreSecretCmd)
	rootCmd.AddCommand(authCmd)
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Makes sure today's session exists, logging in with a visible browser if needed.",
	Run: func(cmd *cobra.Command, args []string) {
		a := newApp()
		defer a.close()

		outcome, err := a.gate.Ensure(cmd.Context())
		if err != nil {
			osutil.Fatal("failed to authenticate", err)
		}
		fmt.Println("authenticated:", outcome)
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Prints whether the session marker is valid today.",
	Run: func(cmd *cobra.Command, args []string) {
		clock, err := chrono.NewStandardImpl(cfg.Timezone)
		if err != nil {
			osutil.Fatal("failed to load timezone", err)
		}
		m := marker.New(cfg.Session.MarkerPath)
		stored, err := m.Stored()
		if err != nil {
			osutil.Fatal("failed to read marker", err)
		}
		valid, err := m.Valid(clock.Now())
		if err != nil {
			osutil.Fatal("failed to read marker", err)
		}

		switch {
		case stored == "":
			fmt.Println("no session, the next fetch logs in")
		case valid:
			fmt.Printf("session valid for %s\n", stored)
		default:
			fmt.Printf("session expired, last login on %s\n", stored)
		}

		_, err = credentials.Secret(cfg.Session.SecretPath, cfg.Session.SecretEncoding)
		if errors.Is(err, credentials.ErrNoSecret) {
			fmt.Println("no secret stored, run `routine auth store-secret`")
		} else if err != nil {
			fmt.Println("secret unreadable:", err)
		}
	},
}

var authResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Deletes the browser profile and the session marker.",
	Run: func(cmd *cobra.Command, args []string) {
		a := newApp()
		// the http cookie store lives inside the profile
		a.close()

		err := a.gate.Reset()
		if err != nil {
			osutil.Fatal("failed to reset session", err)
		}
		slog.Info("session reset", "profile", cfg.ProfileDir, "marker", cfg.Session.MarkerPath)
	},
}

var authStoreSecretCmd = &cobra.Command{
	Use:   "store-secret",
	Short: "Prompts for the login secret and writes it to session.secret_path.",
	Run: func(cmd *cobra.Command, args []string) {
		ui := input.DefaultUI()
		secret, err := ui.Ask("secret:", &input.Options{
			Required:  true,
			Loop:      true,
			Mask:      true,
			HideOrder: true,
		})
		if err != nil {
			osutil.Fatal("failed to read secret", err)
		}
		err = credentials.StoreSecret(cfg.Session.SecretPath, cfg.Session.SecretEncoding, secret)
		if err != nil {
			osutil.Fatal("failed to store secret", err)
		}
		slog.Info("secret stored", "path", cfg.Session.SecretPath)
	},
}
