package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newDialectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dialects",
		Short: "List the scheduler dialects after overlaying the dialect file",
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := loadDialects(cfg.DialectFile)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSTAT\tRUNNING\tACCEPTABLE RT\tWEB API")
			for _, name := range set.Names() {
				d, err := set.Get(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%t\n", d.Name, d.Stat, d.ReRunning, d.AcceptableRt, d.WebAPI)
			}
			return tw.Flush()
		},
	}
}
