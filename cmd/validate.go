package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/signalnine/hypertune/internal/space"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <params.json>",
		Short: "Check a parameter file against the search space",
		Long:  "Every declared parameter must be present, inside its bounds and, for integers, aligned to its step. Unknown keys are rejected.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sp, err := cfg.SearchSpace()
			if err != nil {
				return err
			}
			values, err := readParams(args[0])
			if err != nil {
				return err
			}
			if err := sp.Contains(values); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d parameters OK\n", args[0], len(values))
			return nil
		},
	}
}

func readParams(path string) (space.Values, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading params: %w", err)
	}
	var values space.Values
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parsing params %s: %w", path, err)
	}
	return values, nil
}
