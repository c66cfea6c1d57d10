package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/geowarp/geowarp/internal/core"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <place>",
	Short: "Resolve a place name to coordinates",
	Long:  "Resolve a place name to geographic coordinates and the projected world position.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().String("actor", "", "actor id for rate limiting (optional)")
	resolveCmd.Flags().String("output", "table", "Output format: table, json")
}

func runResolve(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	actor, err := cmd.Flags().GetString("actor")
	if err != nil {
		return err
	}
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	logger := cliLogger()
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer a.close()

	if actor != "" {
		if err := a.service.RateCheck(actor, core.OpSearch); err != nil {
			return describeFailure(err)
		}
	}

	place, err := a.service.Resolve(cmd.Context(), query)
	if err != nil {
		return describeFailure(err)
	}

	world := a.service.WorldCoordinate(place)

	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"place": place, "world": world})
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Place", "Latitude", "Longitude", "X", "Y", "Z"})
	t.AppendRow(table.Row{place.Name,
		fmt.Sprintf("%.4f", place.Latitude), fmt.Sprintf("%.4f", place.Longitude),
		world.X, world.Y, world.Z})
	t.Render()
	return nil
}

// describeFailure converts a typed failure into a friendlier CLI error.
func describeFailure(err error) error {
	var failure *core.Failure
	if !errors.As(err, &failure) {
		return err
	}

	switch failure.Kind {
	case core.KindRateLimited:
		if failure.RetryAfter > 0 {
			return fmt.Errorf("%s (retry in %s)", failure.Message, failure.RetryAfter.Round(time.Second))
		}
		return errors.New(failure.Message)
	case core.KindNotFound:
		return fmt.Errorf("place not found: %s", failure.Message)
	default:
		return err
	}
}
