package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/queuecx/dashboard/internal/remote/pg"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Create or update the profiles, files, activity, context, session,
analytics and account tables. Running it twice is safe.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.IsConfigured() {
			return errors.New("BACKEND_URL is not set")
		}

		fmt.Println(sectionStyle.Render("Database migration"))
		fmt.Println()

		db, err := pg.New(cmd.Context(), cfg.Backend.URL, 1, pg.WithLogger(cliLogger()))
		if err != nil {
			fmt.Println(errorStyle.Render("❌ Could not connect:"), err)
			return err
		}
		defer db.Close()
		fmt.Println(successStyle.Render("✅ Connected"))

		if err := db.Migrate(cmd.Context()); err != nil {
			fmt.Println(errorStyle.Render("❌ Migration failed:"), err)
			return err
		}
		fmt.Println(successStyle.Render("✅ Schema is up to date"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func cliLogger() zerolog.Logger {
	if !verbose {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: rootCmd.ErrOrStderr()}).With().Timestamp().Logger()
}
