package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rijexamenmeldingen/sbat-monitor/internal/config"
	"github.com/rijexamenmeldingen/sbat-monitor/internal/database"
	"github.com/rijexamenmeldingen/sbat-monitor/internal/model"
	"github.com/rijexamenmeldingen/sbat-monitor/internal/repository"
	"github.com/rijexamenmeldingen/sbat-monitor/internal/service/sbat"
)

var (
	checkCenter  int
	checkLicense string
	checkJSON    bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Query availability once for one exam center and license type",
	Long: `Runs a single authenticated availability check and prints the slots
SBAT returns. Nothing is recorded as notified or taken; the calls are
still written to the request audit log.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().IntVar(&checkCenter, "center", 1, "exam center id")
	checkCmd.Flags().StringVar(&checkLicense, "license", model.LicenseB, "license type (B or AM)")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "output slots as JSON")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	scope := model.MonitorConfiguration{
		LicenseTypes:     []string{checkLicense},
		ExamCenterIDs:    []int{checkCenter},
		SecondsInbetween: 1,
	}
	if err := scope.Validate(); err != nil {
		return err
	}

	cfg := config.Load()
	pool, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx := cmd.Context()
	client := sbat.NewClient(cfg.SBATBaseURL, cfg.SBATUsername, cfg.SBATPassword,
		cfg.SBATTimeout, repository.NewRequestRepository(pool))

	token, err := client.Authenticate(ctx)
	if err != nil {
		return err
	}
	resp, err := client.Check(ctx, token, checkCenter, checkLicense)
	if err != nil {
		return err
	}
	if resp.TokenExpired() {
		if token, err = client.Reauthenticate(ctx); err != nil {
			return err
		}
		if resp, err = client.Check(ctx, token, checkCenter, checkLicense); err != nil {
			return err
		}
	}

	slots, err := resp.Slots()
	if err != nil {
		return fmt.Errorf("%w: %s", err, resp.Body)
	}

	if checkJSON {
		data, err := json.MarshalIndent(slots, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal slots: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if len(slots) == 0 {
		cmd.Printf("No slots for license type %s at %s.\n", checkLicense, model.ExamCenterName(checkCenter))
		return nil
	}
	cmd.Printf("%d slot(s) for license type %s at %s:\n", len(slots), checkLicense, model.ExamCenterName(checkCenter))
	for _, s := range slots {
		start, end, err := s.Times()
		if err != nil {
			cmd.Printf("  [%d] %s - %s (unparsed)\n", s.ID, s.From, s.Till)
			continue
		}
		cmd.Printf("  [%d] %s\n", s.ID, sbat.Line(start, end))
	}
	return nil
}
