package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/queuecx/dashboard/internal/email"
)

var testEmailCmd = &cobra.Command{
	Use:   "test-email <recipient>",
	Short: "Send a test message through the configured SMTP relay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sender := email.NewSMTPSender(cfg.SMTP.Addr, cfg.SMTP.From).WithPlainAuth(cfg.SMTP.Username, cfg.SMTP.Password)
		fmt.Println(infoStyle.Render("Relay:"), sender.Addr)

		err = sender.Send(cmd.Context(), email.Message{
			To:      args[0],
			Subject: "QueueCX test message",
			HTML:    "<p>SMTP delivery from qcxctl works.</p>",
		})
		if err != nil {
			fmt.Println(errorStyle.Render("❌ Send failed:"), err)
			return err
		}
		fmt.Println(successStyle.Render("✅ Sent to " + args[0]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(testEmailCmd)
}
