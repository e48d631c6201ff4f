package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/spotiqueue/server/pkg/models"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List guest devices",
	Args:  cobra.NoArgs,
	RunE:  withEnv(runDevices),
}

var deviceCmd = &cobra.Command{
	Use:   "device <id>",
	Short: "Show one device with its recent submissions",
	Args:  cobra.ExactArgs(1),
	RunE:  withEnv(runDevice),
}

var blockCmd = &cobra.Command{
	Use:   "block <id>",
	Short: "Block a device from submitting",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		if err := e.svc.SetStatus(cmd.Context(), args[0], models.IdentityBlocked); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "blocked %s\n", args[0])
		return nil
	}),
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <id>",
	Short: "Allow a blocked device to submit again",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		if err := e.svc.SetStatus(cmd.Context(), args[0], models.IdentityActive); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "unblocked %s\n", args[0])
		return nil
	}),
}

var resetCooldownCmd = &cobra.Command{
	Use:   "reset-cooldown [id]",
	Short: "Clear the cooldown of one device, or of every device with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE:  withEnv(runResetCooldown),
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show device and submission counts",
	Args:  cobra.NoArgs,
	RunE: withEnv(func(cmd *cobra.Command, _ []string, e *env) error {
		s, err := e.svc.Stats(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "devices:  %d total, %d active, %d blocked, %d cooling down\n",
			s.Devices.Total, s.Devices.Active, s.Devices.Blocked, s.Devices.CoolingDown)
		fmt.Fprintf(out, "attempts: %d total, %d successful\n", s.QueueAttempts.Total, s.QueueAttempts.Successful)
		return nil
	}),
}

var resetDataCmd = &cobra.Command{
	Use:   "reset-data",
	Short: "Delete every device, submission, vote, ban and prequeue entry (settings are kept)",
	Args:  cobra.NoArgs,
	RunE: withEnv(func(cmd *cobra.Command, _ []string, e *env) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to reset without --yes")
		}
		if err := e.svc.ResetAllData(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "all guest data reset")
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(devicesCmd, deviceCmd, blockCmd, unblockCmd, resetCooldownCmd, statsCmd, resetDataCmd)

	devicesCmd.Flags().String("status", "", "filter by status (active, blocked)")
	resetCooldownCmd.Flags().Bool("all", false, "reset every device")
	resetDataCmd.Flags().Bool("yes", false, "confirm the reset")
}

func runDevices(cmd *cobra.Command, _ []string, e *env) error {
	status, _ := cmd.Flags().GetString("status")
	devices, err := e.svc.Devices(cmd.Context(), models.IdentityStatus(status))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tFIRST SEEN\tCOOLDOWN")
	for _, d := range devices {
		name := "-"
		if d.DisplayName != nil {
			name = *d.DisplayName
		}
		cool := "-"
		if d.CoolingDown {
			cool = fmt.Sprintf("%ds", d.CooldownRemaining)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.ID, name, d.Status, humanize.Time(d.FirstSeenAt), cool)
	}
	return w.Flush()
}

func runDevice(cmd *cobra.Command, args []string, e *env) error {
	detail, err := e.svc.Device(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s), %d submissions\n", detail.Device.ID, detail.Device.Status, detail.TotalAttempts)
	for _, a := range detail.Attempts {
		fmt.Fprintf(out, "  %-14s %-12s %s - %s\n", humanize.Time(a.Timestamp), a.Outcome, a.TrackName, a.ArtistName)
	}
	return nil
}

func runResetCooldown(cmd *cobra.Command, args []string, e *env) error {
	all, _ := cmd.Flags().GetBool("all")
	switch {
	case all:
		if err := e.svc.ResetAllCooldowns(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "all cooldowns reset")
	case len(args) == 1:
		if err := e.svc.ResetCooldown(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cooldown reset for %s\n", args[0])
	default:
		return fmt.Errorf("give a device id or --all")
	}
	return nil
}
