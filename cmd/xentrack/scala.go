package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/xentrack/xentrack"
)

var scalaReference float64

var scalaCmd = &cobra.Command{
	Use:   "scala <file.scl>",
	Short: "Print the degrees of a Scala tuning",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("could not open scale: %w", err)
		}
		defer f.Close()
		t, err := xentrack.ParseScala(f, scalaReference)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintf(cmd.OutOrStdout(), "%v\n", t)
		fmt.Fprintf(tw, "degree\tratio\tcents\tHz\t\n")
		for d := 0; d <= t.Degrees(); d++ {
			fmt.Fprintf(tw, "%d\t%.6f\t%.3f\t%.3f\t\n", d, t.Ratio(d), t.Cents(d), t.Frequency(d))
		}
		return tw.Flush()
	},
}

func init() {
	scalaCmd.Flags().Float64Var(&scalaReference, "reference", xentrack.DefaultReference, "frequency of degree 0 in Hz")
}
