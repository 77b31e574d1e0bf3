package main

import (
	"errors"
	"fmt"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/validator"
	"github.com/aretw0/tendril/pkg/schema"
	"github.com/spf13/cobra"
)

var errInvalidProject = errors.New("project is invalid")

var validateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Check the domain and training data for consistency",
	Long: `Reports intents, entities, slots and actions used by stories or rules but
missing from the domain, checkpoints that are never reached, and domain entries
no story uses.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := tendril.New(cmd.Context(), projectDir(cmd, args))
		if err != nil {
			errs := schema.ValidationErrors(err)
			if errs == nil {
				return err
			}
			for _, e := range errs {
				fmt.Fprintf(cmd.OutOrStdout(), "error: %v\n", e)
			}
			return errInvalidProject
		}
		defer agent.Close()

		report := validator.Validate(agent.Domain(), agent.Steps())
		fmt.Fprint(cmd.OutOrStdout(), validator.Format(report))
		if report.Err() != nil {
			return errInvalidProject
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Project is valid! ✅")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
