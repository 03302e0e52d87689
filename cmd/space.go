package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSpaceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "space",
		Short: "List the parameter search space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sp, err := cfg.SearchSpace()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tLOW\tHIGH\tSTEP")
			for _, p := range sp.Params {
				step := "-"
				if p.Step > 0 {
					step = fmt.Sprintf("%g", p.Step)
				}
				fmt.Fprintf(tw, "%s\t%s\t%g\t%g\t%s\n", p.Name, p.Kind, p.Low, p.High, step)
			}
			return tw.Flush()
		},
	}
}
