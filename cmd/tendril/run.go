package main

import (
	"github.com/aretw0/tendril/internal/cli"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [dir]",
	Short: "Talk to the assistant in the terminal",
	Long: `Trains the project and starts an interactive conversation.
Type /intent{"entity": "value"} to send an intent directly, "exit" to leave.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonMode, _ := cmd.Flags().GetBool("json")
		watchMode, _ := cmd.Flags().GetBool("watch")
		fresh, _ := cmd.Flags().GetBool("fresh")
		sender, _ := cmd.Flags().GetString("sender")
		confirm, _ := cmd.Flags().GetBool("confirm-actions")

		return cli.Execute(cmd.Context(), cli.RunOptions{
			ProjectPath:    projectDir(cmd, args),
			ConfigPath:     configPath(cmd),
			SenderID:       sender,
			JSON:           jsonMode,
			Watch:          watchMode,
			Fresh:          fresh,
			Debug:          debugEnabled(cmd),
			ConfirmActions: confirm,
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("json", false, "Run in JSON mode (JSON lines input/output)")
	runCmd.Flags().BoolP("watch", "w", false, "Retrain and reload when the project changes")
	runCmd.Flags().Bool("fresh", false, "Start the conversation from scratch")
	runCmd.Flags().StringP("sender", "s", "", "Conversation id (resumes it with a durable store)")
	runCmd.Flags().Bool("confirm-actions", false, "Ask before running each custom action")
}
