// File: cmd/build.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oeb25/webgraph/internal/edgelist"
	"github.com/oeb25/webgraph/internal/observability"
	"github.com/oeb25/webgraph/internal/webgraph"
)

// newBuildCmd creates the `build` command.
func newBuildCmd() *cobra.Command {
	var edgesPath string

	cmd := &cobra.Command{
		Use:   "build --edges <file>",
		Short: "Builds an immutable graph snapshot from a tab separated edge list",
		Long: `Build ingests an edge list (one "source<TAB>target" pair per line, blank
lines and # comments ignored), assigns dense node ids in first-seen order and
publishes a new immutable snapshot under the data directory. The snapshot
becomes visible atomically; a failed build leaves the previous one in place.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			reader, closeFile, err := edgelist.OpenFile(edgesPath, logger)
			if err != nil {
				return fmt.Errorf("failed to open edge list: %w", err)
			}
			defer func() {
				if err := closeFile(); err != nil {
					logger.Warn("Failed to close edge list", zap.Error(err))
				}
			}()

			builder := webgraph.NewBuilder(nil, logger)
			if err := builder.AddStream(reader); err != nil {
				return fmt.Errorf("edge ingest failed: %w", err)
			}

			manifest, err := builder.Build(cfg.Storage.DataDir)
			if err != nil {
				return fmt.Errorf("snapshot build failed: %w", err)
			}

			fmt.Printf("Snapshot %s published: %d nodes, %d edges (%d records read)\n",
				manifest.SnapshotID, manifest.NodeCount, manifest.EdgeCount, reader.Count())
			return nil
		},
	}

	cmd.Flags().StringVar(&edgesPath, "edges", "", "Path to the tab separated edge list (required)")
	_ = cmd.MarkFlagRequired("edges")
	cmd.Flags().String("data-dir", "", "Directory holding snapshots and checkpoints. (Overrides config/env)")

	return cmd
}
