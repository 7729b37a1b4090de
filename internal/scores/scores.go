// Package scores publishes finished centrality runs to external sinks.
package scores

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/oeb25/webgraph/internal/identity"
)

// Row is one published score, keyed by the node's external identifier.
type Row struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Source yields the final per-node accumulators. It fails while a run is
// still in flight, which is how the emitter refuses non-terminal state.
type Source interface {
	Scores() ([]float64, error)
}

// Sink receives the full result set in one call.
type Sink interface {
	Name() string
	Write(ctx context.Context, rows []Row) error
}

// Emitter resolves dense node ids back to external identifiers and fans the
// result out to the configured sinks.
type Emitter struct {
	table *identity.Table
	log   *zap.Logger
}

func NewEmitter(table *identity.Table, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		table: table,
		log:   logger.Named("scores"),
	}
}

// Emit pulls the scores from src and writes them to every sink in order.
// The first failing sink aborts the emit; earlier sinks keep their output.
func (e *Emitter) Emit(ctx context.Context, src Source, sinks ...Sink) error {
	values, err := src.Scores()
	if err != nil {
		return fmt.Errorf("scores: %w", err)
	}
	if len(values) != e.table.Len() {
		return fmt.Errorf("scores: %d accumulators for %d known nodes", len(values), e.table.Len())
	}

	rows := make([]Row, len(values))
	e.table.Range(func(id uint32, externalID string) bool {
		rows[id] = Row{ID: externalID, Score: values[id]}
		return true
	})

	e.logSummary(values)

	for _, sink := range sinks {
		if err := sink.Write(ctx, rows); err != nil {
			return fmt.Errorf("scores: %s sink: %w", sink.Name(), err)
		}
		e.log.Info("Scores written",
			zap.String("sink", sink.Name()),
			zap.Int("rows", len(rows)))
	}
	return nil
}

func (e *Emitter) logSummary(values []float64) {
	if len(values) == 0 {
		e.log.Info("No nodes to publish")
		return
	}
	fields := []zap.Field{
		zap.Int("nodes", len(values)),
		zap.Float64("mean", stat.Mean(values, nil)),
		zap.Float64("max", floats.Max(values)),
	}
	if len(values) > 1 {
		fields = append(fields, zap.Float64("stddev", stat.StdDev(values, nil)))
	}
	e.log.Info("Centrality distribution", fields...)
}
