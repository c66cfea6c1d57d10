package cmd

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Inspect the geocoder request budget",
}

var budgetStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the hourly budget window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := cliLogger()
		defer func() { _ = logger.Sync() }()

		a, err := newApp(cmd.Context(), logger)
		if err != nil {
			return err
		}
		defer a.close()

		stats := a.service.BudgetStats()

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Used", "Limit", "Window Start", "Cool-Off Until"})

		windowStart := "-"
		if !stats.WindowStart.IsZero() {
			windowStart = stats.WindowStart.Format("15:04:05")
		}
		coolOff := "-"
		if !stats.CoolOffUntil.IsZero() {
			coolOff = stats.CoolOffUntil.Format("15:04:05")
		}
		t.AppendRow(table.Row{stats.WindowCount, stats.HourlyLimit, windowStart, coolOff})
		t.Render()
		return nil
	},
}

var budgetResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the hourly budget and cool-off",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := cliLogger()
		defer func() { _ = logger.Sync() }()

		a, err := newApp(cmd.Context(), logger)
		if err != nil {
			return err
		}
		defer a.close()

		a.service.ResetBudget()
		fmt.Println("geocoder budget reset")
		return nil
	},
}

var ratesResetCmd = &cobra.Command{
	Use:   "rates-reset [actor]",
	Short: "Clear rate limit state for one actor, or all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := cliLogger()
		defer func() { _ = logger.Sync() }()

		a, err := newApp(cmd.Context(), logger)
		if err != nil {
			return err
		}
		defer a.close()

		actor := ""
		if len(args) == 1 {
			actor = args[0]
		}
		a.service.ResetRates(actor)

		if actor == "" {
			fmt.Println("rate limit state cleared for all actors")
		} else {
			fmt.Printf("rate limit state cleared for %s\n", actor)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(budgetCmd)
	budgetCmd.AddCommand(budgetStatsCmd)
	budgetCmd.AddCommand(budgetResetCmd)
	rootCmd.AddCommand(ratesResetCmd)
}
