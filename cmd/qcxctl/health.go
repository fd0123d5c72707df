package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/queuecx/dashboard/internal/backend"
	"github.com/queuecx/dashboard/internal/remote"
	"github.com/queuecx/dashboard/internal/remote/pg"
)

var healthTimeout time.Duration

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the backend once and report its status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Println(sectionStyle.Render("🔍 Backend Health Check"))
		fmt.Println()

		ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
		defer cancel()

		var conn backend.Connection = backend.Unconfigured{}
		if cfg.IsConfigured() {
			db, err := pg.New(ctx, cfg.Backend.URL, 1, pg.WithLogger(cliLogger()))
			if err != nil {
				fmt.Println(errorStyle.Render("❌ Could not connect:"), err)
				return err
			}
			defer db.Close()
			conn = backend.Configured{Remote: remote.Backend{Database: db, Realtime: db}}
		}
		f := backend.New(conn, backend.WithLogger(cliLogger()))
		defer f.Close()

		h := f.HealthCheck(ctx)
		fmt.Println(infoStyle.Render("Mode:"), h.Mode)
		if verbose {
			fmt.Println(infoStyle.Render("Features:"),
				fmt.Sprintf("caching=%t analytics=%t retries=%t", h.Features.Caching, h.Features.Analytics, h.Features.Retries))
		}
		switch h.Status {
		case backend.StatusHealthy:
			if h.Mode == "demo" {
				fmt.Println(warningStyle.Render("⚠️  Running in demo mode, no backend configured"))
			} else {
				fmt.Println(successStyle.Render(fmt.Sprintf("✅ Healthy (%dms)", h.LatencyMS)))
			}
			return nil
		case backend.StatusUnhealthy:
			fmt.Println(warningStyle.Render("⚠️  Unhealthy:"), h.Error)
		default:
			fmt.Println(errorStyle.Render("❌ Unreachable:"), h.Error)
		}
		return fmt.Errorf("backend is %s", h.Status)
	},
}

func init() {
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second, "Probe timeout")
	rootCmd.AddCommand(healthCmd)
}
