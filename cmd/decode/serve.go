package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/voxwave/decoder/envconfig"
	"github.com/voxwave/decoder/internal/graph"
	"github.com/voxwave/decoder/server"
)

var errUnscoredFrame = errors.New("serve: no acoustic scorer wired for this session")

// pendingScorer is the AcousticScorer stub this command wires in: a real
// deployment replaces it with something that pulls frames off whatever
// streaming channel feeds it acoustic log-likelihoods (spec.md §1 keeps
// the acoustic model itself a non-goal, external collaborator).
type pendingScorer struct{}

func (pendingScorer) LogLikelihoods(ctx context.Context, frame int) ([]float32, error) {
	return nil, errUnscoredFrame
}

func newServeCmd() *cobra.Command {
	var (
		wfstPath string
		addr     string
		beam     float64
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a decode session over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			wfst, err := graph.NewFileLoader(wfstPath).Load(cmd.Context())
			if err != nil {
				return err
			}

			opts := envconfig.Options()
			if cmd.Flags().Changed("beam") {
				opts.Beam = float32(beam)
			}

			var scorer graph.AcousticScorer = pendingScorer{}
			srv := server.New(wfst, scorer, opts)
			return srv.Run(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&wfstPath, "wfst", "", "path to a CBOR-encoded flattened WFST (required)")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().Float64Var(&beam, "beam", 16, "token beam width")
	cmd.MarkFlagRequired("wfst")

	return cmd
}
