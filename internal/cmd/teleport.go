package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/geowarp/geowarp/internal/core"
)

var teleportCmd = &cobra.Command{
	Use:   "teleport <actor> <place>",
	Short: "Teleport an actor to a place",
	Long:  "Run the full teleport flow: rate check, cooldown check, resolution, and ledger record.",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runTeleport,
}

var cooldownCmd = &cobra.Command{
	Use:   "cooldown <actor>",
	Short: "Show an actor's teleport cooldown",
	Args:  cobra.ExactArgs(1),
	RunE:  runCooldown,
}

func init() {
	rootCmd.AddCommand(teleportCmd)
	rootCmd.AddCommand(cooldownCmd)
}

func runTeleport(cmd *cobra.Command, args []string) error {
	actor := args[0]
	place := strings.Join(args[1:], " ")

	logger := cliLogger()
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.service.RateCheck(actor, core.OpTeleport); err != nil {
		return describeFailure(err)
	}

	resolved, err := a.service.Resolve(cmd.Context(), place)
	if err != nil {
		return describeFailure(err)
	}

	// Check and record share the resolved name so query aliases of one
	// place share a single cooldown.
	ok, err := a.service.CanTeleport(cmd.Context(), actor, resolved.Name)
	if err != nil {
		return describeFailure(err)
	}
	if !ok {
		remaining, _ := a.service.RemainingCooldownDays(cmd.Context(), actor, resolved.Name)
		return fmt.Errorf("teleport cooldown active for %s: %d day(s) remaining", actor, remaining)
	}

	if err := a.service.RecordTeleport(cmd.Context(), actor, resolved.Name); err != nil {
		return describeFailure(err)
	}

	world := a.service.WorldCoordinate(resolved)
	fmt.Printf("%s teleported to %s (%s)\n", actor, resolved.Name, world)
	return nil
}

func runCooldown(cmd *cobra.Command, args []string) error {
	actor := args[0]

	logger := cliLogger()
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer a.close()

	remaining, err := a.service.RemainingCooldownDays(cmd.Context(), actor, "")
	if err != nil {
		return describeFailure(err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Actor", "Can Teleport", "Remaining Days", "Last Place", "Last Day"})

	row := table.Row{actor, remaining == 0, remaining, "-", "-"}
	if last, err := a.service.LastTeleport(cmd.Context(), actor); err == nil && last != nil {
		row[3] = last.Place
		row[4] = last.Day.Format("2006-01-02")
	}
	t.AppendRow(row)
	t.Render()
	return nil
}
