package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/tendril/internal/cli"
	"github.com/spf13/cobra"
)

var trackerCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Manage stored conversations",
	Long:  `List, inspect, and remove the conversations kept by the configured tracker store.`,
}

var trackerLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all stored conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := buildQuiet(cmd)
		if err != nil {
			return err
		}
		defer stack.Close()

		ids, err := stack.Agent.Conversations(cmd.Context())
		if err != nil {
			return fmt.Errorf("error listing conversations: %w", err)
		}
		if len(ids) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No conversations found.")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Conversations:")
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), "- "+id)
		}
		return nil
	},
}

var trackerInspectCmd = &cobra.Command{
	Use:   "inspect <sender-id>",
	Short: "Print the state and events of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := buildQuiet(cmd)
		if err != nil {
			return err
		}
		defer stack.Close()

		tracker, err := stack.Agent.Tracker(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("error loading conversation '%s': %w", args[0], err)
		}
		data, err := json.MarshalIndent(tracker.Snapshot(true), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var trackerRmCmd = &cobra.Command{
	Use:   "rm <sender-id>...",
	Short: "Remove one or more conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) > 0) {
			return errors.New("pass either sender ids or --all")
		}

		stack, err := buildQuiet(cmd)
		if err != nil {
			return err
		}
		defer stack.Close()

		ids := args
		if all {
			if ids, err = stack.Agent.Conversations(cmd.Context()); err != nil {
				return err
			}
		}

		var errs []error
		for _, id := range ids {
			if err := stack.Agent.DeleteTracker(cmd.Context(), id); err != nil {
				errs = append(errs, fmt.Errorf("error removing '%s': %w", id, err))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed conversation '%s'\n", id)
		}
		return errors.Join(errs...)
	},
}

func init() {
	rootCmd.AddCommand(trackerCmd)
	trackerCmd.AddCommand(trackerLsCmd)
	trackerCmd.AddCommand(trackerInspectCmd)
	trackerCmd.AddCommand(trackerRmCmd)

	trackerRmCmd.Flags().Bool("all", false, "Remove every stored conversation")
}

func buildQuiet(cmd *cobra.Command) (*cli.Stack, error) {
	return cli.Build(cmd.Context(), cli.Options{
		ProjectPath: projectDir(cmd, nil),
		ConfigPath:  configPath(cmd),
		Debug:       debugEnabled(cmd),
		Quiet:       true,
	})
}
