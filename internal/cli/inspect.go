package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPersonasCmd(root *rootOptions) *cobra.Command {
	return silenceUsageAndErrors(&cobra.Command{
		Use:   "personas",
		Short: "List the poet personas in the configuration",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			loaded, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			renderPersonas(root.stdout, loaded.Catalog)
			return nil
		},
	})
}

func newRubricCmd(root *rootOptions) *cobra.Command {
	return silenceUsageAndErrors(&cobra.Command{
		Use:   "rubric",
		Short: "Show the judging rubric and its weights",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			loaded, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			renderRubric(root.stdout, loaded.Rubric)
			return nil
		},
	})
}

func newValidateConfigCmd(root *rootOptions) *cobra.Command {
	return silenceUsageAndErrors(&cobra.Command{
		Use:   "validate-config [file]",
		Short: "Validate a configuration file without contacting any provider",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := root.configPath
			if len(args) == 1 {
				path = args[0]
			}
			loaded, err := loadConfig(path)
			if err != nil {
				return err
			}
			cfg := loaded.Config
			fmt.Fprintf(root.stdout, "valid (version %s, hash %s)\n", cfg.Version, loaded.Hash[:12])
			fmt.Fprintf(root.stdout, "  personas: %d\n  criteria: %d\n  llm:      %s\n  rounds:   %d default, %d to %d, %s pairing\n",
				loaded.Catalog.Len(), len(loaded.Rubric.Keys()), cfg.LLM.Spec(),
				cfg.Duel.DefaultRounds, cfg.Duel.MinRounds, cfg.Duel.MaxRounds, cfg.Duel.Pairing)
			return nil
		},
	})
}
