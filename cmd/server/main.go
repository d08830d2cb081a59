package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sbat-monitor",
	Short: "Watches SBAT for newly opened driving exam slots",
	Long: `sbat-monitor polls the SBAT exam booking API for every configured
exam center and license type, records which slots appear and disappear,
and notifies subscribers by email, Telegram and Discord.`,
	SilenceUsage: true,
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
