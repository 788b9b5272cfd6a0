package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/containerd/console"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/voxwave/decoder/api"
	"github.com/voxwave/decoder/envconfig"
	"github.com/voxwave/decoder/internal/decoder"
	"github.com/voxwave/decoder/internal/graph"
	"github.com/voxwave/decoder/internal/lattice"
	"github.com/voxwave/decoder/logutil"
)

// acousticsFile is a CBOR-serialized sequence of per-frame, per-pdf
// log-likelihood vectors (spec.md §6 "acoustic log-likelihoods").
type acousticsFile struct {
	Frames [][]float32
}

type fileScorer struct {
	frames [][]float32
}

func (s *fileScorer) LogLikelihoods(ctx context.Context, frame int) ([]float32, error) {
	if frame < 0 || frame >= len(s.frames) {
		return nil, fmt.Errorf("run: frame %d out of range (have %d)", frame, len(s.frames))
	}
	return s.frames[frame], nil
}

func loadAcoustics(path string) ([][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("run: read acoustics file: %w", err)
	}
	var af acousticsFile
	if err := cbor.Unmarshal(data, &af); err != nil {
		return nil, fmt.Errorf("run: decode acoustics file: %w", err)
	}
	return af.Frames, nil
}

func newRunCmd() *cobra.Command {
	var (
		wfstPath      string
		acousticsPath string
		dumpLattice   string
		beam          float64
		latticeBeam   float64
		pruneInterval int
		live          bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Decode a fixed acoustic sequence against a flattened WFST",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := uuid.NewString()
			start := time.Now()

			wfst, err := graph.NewFileLoader(wfstPath).Load(cmd.Context())
			if err != nil {
				return err
			}
			frames, err := loadAcoustics(acousticsPath)
			if err != nil {
				return err
			}

			opts := envconfig.Options()
			if cmd.Flags().Changed("beam") {
				opts.Beam = float32(beam)
			}
			if cmd.Flags().Changed("lattice-beam") {
				opts.LatticeBeam = float32(latticeBeam)
			}
			if cmd.Flags().Changed("prune-interval") {
				opts.PruneInterval = pruneInterval
			}

			driver := decoder.NewDriver(wfst, &fileScorer{frames: frames}, opts)
			pruner := lattice.NewPruner(wfst, driver.Kernel().ArcArena(), opts)
			driver.SetCollector(pruner)

			ctx := cmd.Context()
			var runErr error
			if live {
				runErr = runWithLiveProgress(ctx, driver, len(frames), cmd.OutOrStdout())
			} else {
				runErr = driver.Run(ctx, len(frames))
			}
			if runErr != nil && !errors.Is(runErr, api.ErrDecodingDead) {
				return runErr
			}

			result, err := driver.Finalize(ctx)
			if err != nil {
				return err
			}

			logutil.Logger().Info("decode complete",
				"session", sessionID,
				"elapsed", time.Since(start),
				"reached_final", result.ReachedFinal,
			)
			printStats(cmd.OutOrStdout(), driver, runErr)

			if dumpLattice != "" {
				data, err := cbor.Marshal(result)
				if err != nil {
					return fmt.Errorf("run: encode lattice dump: %w", err)
				}
				if err := os.WriteFile(dumpLattice, data, 0o644); err != nil {
					return fmt.Errorf("run: write lattice dump: %w", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&wfstPath, "wfst", "", "path to a CBOR-encoded flattened WFST (required)")
	cmd.Flags().StringVar(&acousticsPath, "acoustics", "", "path to a CBOR-encoded per-frame log-likelihood sequence (required)")
	cmd.Flags().StringVar(&dumpLattice, "dump-lattice", "", "write the finalized lattice as CBOR to this path")
	cmd.Flags().Float64Var(&beam, "beam", 16, "token beam width")
	cmd.Flags().Float64Var(&latticeBeam, "lattice-beam", 8, "lattice pruning beam width")
	cmd.Flags().IntVar(&pruneInterval, "prune-interval", 25, "frames between backward pruning passes")
	cmd.Flags().BoolVar(&live, "live", false, "show a live-updating progress line (raw terminal mode)")
	cmd.MarkFlagRequired("wfst")
	cmd.MarkFlagRequired("acoustics")

	return cmd
}

// runWithLiveProgress decodes frame by frame instead of calling
// driver.Run in one shot, so it can print progress between frames. If
// stdout is a real terminal, it switches to raw mode for the duration so
// the progress line can be rewritten in place rather than scrolling.
func runWithLiveProgress(ctx context.Context, driver *decoder.Driver, numFrames int, out io.Writer) error {
	cur, err := console.ConsoleFromFile(os.Stdout)
	raw := err == nil
	if raw {
		if err := cur.SetRaw(); err != nil {
			raw = false
		} else {
			defer cur.Reset()
		}
	}

	if err := driver.Init(ctx); err != nil {
		return err
	}
	for f := 0; f < numFrames; f++ {
		if err := driver.DecodeFrame(ctx, f); err != nil {
			return err
		}
		if raw {
			fmt.Fprintf(out, "\rframe %d/%d active=%d", f+1, numFrames, driver.Kernel().ActiveCount())
		}
	}
	if raw {
		fmt.Fprintln(out)
	}
	return nil
}

func printStats(w io.Writer, d *decoder.Driver, runErr error) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"metric", "value"})
	table.Append([]string{"frames decoded", fmt.Sprint(d.FramesDecoded())})
	table.Append([]string{"active states (final frame)", fmt.Sprint(d.Kernel().ActiveCount())})
	table.Append([]string{"reached final", fmt.Sprint(d.ReachedFinal())})
	if runErr != nil {
		table.Append([]string{"decode error", runErr.Error()})
	}
	table.Render()
}
