// File: cmd/centrality.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oeb25/webgraph/internal/centrality"
	"github.com/oeb25/webgraph/internal/checkpoint"
	"github.com/oeb25/webgraph/internal/config"
	"github.com/oeb25/webgraph/internal/observability"
	"github.com/oeb25/webgraph/internal/scores"
	"github.com/oeb25/webgraph/internal/sketch"
	"github.com/oeb25/webgraph/internal/webgraph"
)

// newCentralityCmd creates the `centrality` command.
func newCentralityCmd() *cobra.Command {
	var resume bool

	cmd := &cobra.Command{
		Use:   "centrality",
		Short: "Computes approximate harmonic centrality over the latest snapshot",
		Long: `Centrality runs sketch expansion rounds over the latest published
snapshot and writes the final per-node scores to the configured sinks. Every
completed round is checkpointed; with --resume an interrupted run continues
from the last committed round instead of starting over.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			snap, err := webgraph.OpenLatest(cfg.Storage.DataDir, cfg.Storage.AdjacencyCacheSize, logger)
			if err != nil {
				if errors.Is(err, webgraph.ErrNoSnapshot) {
					return fmt.Errorf("no snapshot found in %s; run `webgraph build` first", cfg.Storage.DataDir)
				}
				return fmt.Errorf("failed to open snapshot: %w", err)
			}
			defer func() {
				if err := snap.Close(); err != nil {
					logger.Warn("Failed to close snapshot", zap.Error(err))
				}
			}()

			if err := logGraphShape(snap, logger); err != nil {
				return err
			}

			params, err := sketch.ParamsForError(cfg.Sketch.RelativeStdError)
			if err != nil {
				return fmt.Errorf("invalid sketch error budget: %w", err)
			}

			mgr := checkpoint.NewManager(cfg.Storage.DataDir, cfg.Engine.CheckpointRetention, logger)
			if !resume {
				if err := mgr.Clear(); err != nil {
					return err
				}
			}

			eng := centrality.New(snap, params, centrality.Config{
				MaxRounds:           cfg.Engine.MaxRounds,
				ConvergenceFraction: cfg.Engine.ConvergenceFraction,
				Workers:             cfg.Engine.Workers(),
			}, mgr, logger)

			if err := eng.Resume(); err != nil {
				return fmt.Errorf("failed to restore engine state: %w", err)
			}
			if err := eng.Run(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Centrality run aborted; state is checkpointed", zap.Int("round", eng.Round()))
					return fmt.Errorf("run aborted by user signal; rerun with --resume to continue")
				}
				return err
			}

			sinks, cleanup, err := buildSinks(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			emitter := scores.NewEmitter(snap.Table(), logger)
			if err := emitter.Emit(ctx, eng, sinks...); err != nil {
				return err
			}

			fmt.Printf("Centrality complete after %d rounds over %d nodes.\n", eng.Round(), snap.NodeCount())
			if cfg.Scores.OutputPath != "" {
				fmt.Printf("Scores written to %s\n", cfg.Scores.OutputPath)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&resume, "resume", false, "Continue from the latest committed checkpoint instead of starting fresh")
	cmd.Flags().String("data-dir", "", "Directory holding snapshots and checkpoints. (Overrides config/env)")
	cmd.Flags().IntP("workers", "j", 0, "Number of concurrent round workers. (Overrides config/env)")
	cmd.Flags().Int("max-rounds", 0, "Maximum expansion rounds. (Overrides config/env)")
	cmd.Flags().Float64("error", 0, "Relative standard error budget for the sketches. (Overrides config/env)")
	cmd.Flags().StringP("output", "o", "", "Output path for the JSONL scores. (Overrides config/env)")

	return cmd
}

// logGraphShape surveys the snapshot's degree distribution before a run.
// Nodes without inbound links keep a score of exactly zero, so their count
// tells an operator how much of the graph the run can actually rank.
func logGraphShape(snap *webgraph.Snapshot, logger *zap.Logger) error {
	var noInbound, maxIn, maxOut uint64
	for node := uint32(0); node < snap.NodeCount(); node++ {
		out, in, err := snap.Degree(node)
		if err != nil {
			return fmt.Errorf("failed to read node degrees: %w", err)
		}
		if in == 0 {
			noInbound++
		}
		if in > maxIn {
			maxIn = in
		}
		if out > maxOut {
			maxOut = out
		}
	}
	logger.Info("Snapshot opened",
		zap.Uint32("nodes", snap.NodeCount()),
		zap.Uint64("no_inlink_nodes", noInbound),
		zap.Uint64("max_in_degree", maxIn),
		zap.Uint64("max_out_degree", maxOut),
	)
	return nil
}

// buildSinks assembles the configured score sinks. The returned cleanup
// releases the database pool, if any.
func buildSinks(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]scores.Sink, func(), error) {
	var sinks []scores.Sink
	cleanup := func() {}

	if cfg.Scores.OutputPath != "" {
		sinks = append(sinks, scores.NewJSONLSink(cfg.Scores.OutputPath))
	}

	if cfg.Scores.Postgres.Enabled {
		pool, err := pgxpool.New(ctx, cfg.Scores.Postgres.URL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to connect to database: %w", err)
		}
		cleanup = pool.Close

		sink, err := scores.NewPostgresSink(ctx, pool, cfg.Scores.Postgres.Table, cfg.Scores.Postgres.CopyTimeout, logger)
		if err != nil {
			pool.Close()
			return nil, func() {}, fmt.Errorf("failed to initialize postgres sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	return sinks, cleanup, nil
}
