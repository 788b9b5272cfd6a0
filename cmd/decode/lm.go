package main

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/voxwave/decoder/envconfig"
	"github.com/voxwave/decoder/internal/lm"
)

func newLMStatsCmd() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "lm-stats <arpa-file>",
		Short: "Report vocabulary size, order and hash-store stats for an ARPA language model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := envconfig.Options()
			opts.StrictARPA = strict

			store, err := lm.BuildFromARPA(args[0], opts)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"metric", "value"})
			table.Append([]string{"order", fmt.Sprint(store.NgramOrder())})
			table.Append([]string{"vocabulary size", fmt.Sprint(store.VocabSize())})
			table.Append([]string{"bos", fmt.Sprint(store.BOSSymbol())})
			table.Append([]string{"eos", fmt.Sprint(store.EOSSymbol())})
			table.Append([]string{"unk", fmt.Sprint(store.UnkSymbol())})
			for _, w := range store.Warnings() {
				table.Append([]string{"warning", w})
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "treat declared/observed n-gram count mismatches as a hard error")
	return cmd
}
