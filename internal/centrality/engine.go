// File: internal/centrality/engine.go

// Package centrality drives the round-based harmonic centrality computation.
// Each round merges, for every node, the previous round's sketches of its
// in-neighbors into the node's own sketch, so a node's sketch approximates
// the set of nodes that can reach it within the current distance horizon.
// The per-round growth of that set, weighted by the reciprocal round number,
// accumulates into the node's harmonic centrality: how reachable the node is
// from the rest of the graph.
package centrality

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oeb25/webgraph/internal/checkpoint"
	"github.com/oeb25/webgraph/internal/sketch"
)

// ErrIncompleteRun guards against emitting scores before the engine reaches
// a terminal state (convergence or the round cap).
var ErrIncompleteRun = errors.New("centrality: run has not reached a terminal state")

// Graph is the read-only adjacency surface the engine needs. A webgraph
// snapshot satisfies it; tests use small in-memory fakes.
type Graph interface {
	NodeCount() uint32
	InNeighbors(node uint32) ([]uint32, error)
}

// Config bounds the round loop.
type Config struct {
	// MaxRounds is the hard cap on expansion rounds; on a connected graph the
	// loop would otherwise run for the graph's effective diameter.
	MaxRounds int
	// ConvergenceFraction terminates the run once a round's total newly
	// reached count drops below this fraction of the node count.
	ConvergenceFraction float64
	// Workers is the number of parallel shards per round.
	Workers int
}

// Engine executes the round state machine. Rounds read the previous
// generation's sketches and write a fresh one; the two generations never
// alias, so per-node work is data-race free by construction and the result
// does not depend on scheduling order.
type Engine struct {
	graph  Graph
	params sketch.Params
	cfg    Config
	ckpt   *checkpoint.Manager
	log    *zap.Logger

	round    int
	prev     *sketch.Registry
	sums     []float64
	comps    []float64
	terminal bool
}

// New creates an engine over graph. Call Resume before Run.
func New(graph Graph, params sketch.Params, cfg Config, ckpt *checkpoint.Manager, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Engine{
		graph:  graph,
		params: params,
		cfg:    cfg,
		ckpt:   ckpt,
		log:    logger.Named("centrality"),
	}
}

// Resume restores the last committed round's state, or cold-starts at round
// zero with every node's sketch seeded to itself.
func (e *Engine) Resume() error {
	n := int(e.graph.NodeCount())

	state, err := e.ckpt.Resume()
	if err != nil {
		if !errors.Is(err, checkpoint.ErrNoCheckpoint) {
			return err
		}
		e.log.Info("No checkpoint found, cold start", zap.Int("nodes", n))
		e.round = 0
		e.prev = sketch.NewRegistry(n, e.params)
		e.prev.SeedAll()
		e.sums = make([]float64, n)
		e.comps = make([]float64, n)
		return nil
	}

	if state.Sketches.NodeCount() != n {
		return fmt.Errorf("centrality: checkpoint holds %d nodes but the snapshot has %d; delete stale checkpoints after rebuilding the graph", state.Sketches.NodeCount(), n)
	}
	if state.Sketches.Params() != e.params {
		return fmt.Errorf("centrality: checkpoint sketch precision %d does not match configured %d", state.Sketches.Params().Precision, e.params.Precision)
	}

	e.round = state.Round
	e.prev = state.Sketches
	e.sums = state.Sums
	e.comps = state.Compensations
	return nil
}

// Run advances rounds until convergence or the round cap, committing a
// checkpoint after every round. Cancellation is honored between rounds only;
// a round either completes for all nodes or the run fails and is resumed
// from the last committed checkpoint.
func (e *Engine) Run(ctx context.Context) error {
	if e.prev == nil {
		return fmt.Errorf("centrality: Run called before Resume")
	}
	n := float64(e.graph.NodeCount())
	if n == 0 {
		e.terminal = true
		return nil
	}
	if e.round >= e.cfg.MaxRounds {
		e.terminal = true
		return nil
	}

	for e.round < e.cfg.MaxRounds {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("centrality: run interrupted before round %d: %w", e.round+1, err)
		}

		round := e.round + 1
		start := time.Now()
		next, totalNew, err := e.runRound(ctx, round)
		if err != nil {
			return fmt.Errorf("round %d failed: %w", round, err)
		}

		e.prev = next
		e.round = round

		if err := e.ckpt.Commit(&checkpoint.State{
			Round:         e.round,
			Sketches:      e.prev,
			Sums:          e.sums,
			Compensations: e.comps,
		}); err != nil {
			return fmt.Errorf("failed to checkpoint round %d: %w", round, err)
		}

		e.log.Info("Round completed",
			zap.Int("round", round),
			zap.Float64("newly_reached", totalNew),
			zap.Duration("elapsed", time.Since(start)),
		)

		if totalNew < e.cfg.ConvergenceFraction*n {
			e.log.Info("Converged", zap.Int("rounds", round))
			break
		}
	}

	e.terminal = true
	return nil
}

// runRound computes one full generation. Workers own disjoint node ranges;
// they read only the previous generation and write only their own range of
// the next one, with a barrier (errgroup Wait) before the round commits.
func (e *Engine) runRound(ctx context.Context, round int) (*sketch.Registry, float64, error) {
	n := int(e.graph.NodeCount())
	// The next generation starts as a copy of the previous one; workers then
	// fold each node's in-neighbors into its own range.
	next := e.prev.Clone()

	workers := e.cfg.Workers
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers
	totals := make([]float64, workers)

	g, _ := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		lo := w * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		g.Go(func() error {
			var localNew float64
			for node := lo; node < hi; node++ {
				id := uint32(node)
				inbound, err := e.graph.InNeighbors(id)
				if err != nil {
					return err
				}
				for _, v := range inbound {
					next.Merge(id, e.prev.Registers(v))
				}

				delta := next.Estimate(id) - e.prev.Estimate(id)
				if delta <= 0 {
					// Estimator noise can go slightly negative; a node whose
					// sketch did not change is exactly zero.
					continue
				}
				e.sums[node], e.comps[node] = kahanAdd(e.sums[node], e.comps[node], delta/float64(round))
				localNew += delta
			}
			totals[w] = localNew
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var totalNew float64
	for _, t := range totals {
		totalNew += t
	}
	return next, totalNew, nil
}

// Round reports the number of completed rounds.
func (e *Engine) Round() int { return e.round }

// Terminal reports whether the run reached convergence or the round cap.
func (e *Engine) Terminal() bool { return e.terminal }

// Scores returns the final harmonic centrality per node id. It fails with
// ErrIncompleteRun until the engine reports a terminal state.
func (e *Engine) Scores() ([]float64, error) {
	if !e.terminal {
		return nil, ErrIncompleteRun
	}
	scores := make([]float64, len(e.sums))
	for i := range scores {
		scores[i] = e.sums[i] + e.comps[i]
	}
	return scores, nil
}
