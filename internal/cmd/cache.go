package cmd

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the resolution cache",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove expired cache entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := cliLogger()
		defer func() { _ = logger.Sync() }()

		a, err := newApp(cmd.Context(), logger)
		if err != nil {
			return err
		}
		defer a.close()

		purged, err := a.service.PurgeCache(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("purged %d expired entries\n", purged)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cache entry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := cliLogger()
		defer func() { _ = logger.Sync() }()

		a, err := newApp(cmd.Context(), logger)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.service.ClearCache(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("cache cleared")
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := cliLogger()
		defer func() { _ = logger.Sync() }()

		a, err := newApp(cmd.Context(), logger)
		if err != nil {
			return err
		}
		defer a.close()

		durable, err := a.store.CountPlaces(cmd.Context())
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Tier", "Entries"})
		t.AppendRow(table.Row{"memory", a.service.CacheSize()})
		t.AppendRow(table.Row{"durable", durable})
		t.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
}
