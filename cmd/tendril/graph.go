package main

import (
	"fmt"

	"github.com/aretw0/tendril/internal/cli"
	"github.com/aretw0/tendril/internal/presentation/graph"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph [dir]",
	Short: "Export the story graph visualization",
	Long: `Outputs a Mermaid diagram (graph TD) of the story steps and the checkpoints
linking them. With --sender, the steps the conversation went through are highlighted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, _ := cmd.Flags().GetString("sender")

		stack, err := cli.Build(cmd.Context(), cli.Options{
			ProjectPath: projectDir(cmd, args),
			ConfigPath:  configPath(cmd),
			Debug:       debugEnabled(cmd),
			Quiet:       true,
		})
		if err != nil {
			return err
		}
		defer stack.Close()

		var overlay *graph.GraphOverlay
		if sender != "" {
			tracker, err := stack.Agent.Tracker(cmd.Context(), sender)
			if err != nil {
				return err
			}
			overlay = graph.Overlay(stack.Agent.Steps(), tracker.Events())
		}
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(stack.Agent.Steps(), overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringP("sender", "s", "", "Highlight the path of this conversation")
}
