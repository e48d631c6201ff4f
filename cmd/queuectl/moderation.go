package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var banCmd = &cobra.Command{
	Use:   "ban <track id or url>",
	Short: "Ban a track from being queued",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		reason, _ := cmd.Flags().GetString("reason")
		if err := e.svc.Bans().Ban(cmd.Context(), args[0], "", reason); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "track banned")
		return nil
	}),
}

var unbanCmd = &cobra.Command{
	Use:   "unban <track id>",
	Short: "Remove a track from the ban list",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		if err := e.svc.Bans().Unban(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "track unbanned")
		return nil
	}),
}

var bannedCmd = &cobra.Command{
	Use:   "banned",
	Short: "List banned tracks",
	Args:  cobra.NoArgs,
	RunE: withEnv(func(cmd *cobra.Command, _ []string, e *env) error {
		list, err := e.svc.Bans().List(cmd.Context())
		if err != nil {
			return err
		}
		for _, b := range list {
			reason := ""
			if b.Reason != nil {
				reason = *b.Reason
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", b.TrackID, reason)
		}
		return nil
	}),
}

var settingsCmd = &cobra.Command{
	Use:   "settings [key=value ...]",
	Short: "Show runtime settings, or update them",
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		if len(args) > 0 {
			updates := make(map[string]string, len(args))
			for _, arg := range args {
				key, value, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("expected key=value, got %q", arg)
				}
				updates[key] = value
			}
			if err := e.svc.Settings().Set(cmd.Context(), updates); err != nil {
				return err
			}
		}

		raw, err := e.svc.Settings().Raw(cmd.Context())
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "%-26s %s\n", k, raw[k])
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(banCmd, unbanCmd, bannedCmd, settingsCmd)
	banCmd.Flags().String("reason", "", "why the track is banned")
}
