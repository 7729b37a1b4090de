package scores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DBPool abstracts the pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresSink replaces the contents of a score table in one transaction
// using COPY for the bulk insert.
type PostgresSink struct {
	pool    DBPool
	table   string
	timeout time.Duration
	log     *zap.Logger
}

// NewPostgresSink verifies the connection before returning a sink.
func NewPostgresSink(ctx context.Context, pool DBPool, table string, copyTimeout time.Duration, logger *zap.Logger) (*PostgresSink, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresSink{
		pool:    pool,
		table:   table,
		timeout: copyTimeout,
		log:     logger.Named("pgsink"),
	}, nil
}

func (s *PostgresSink) Name() string { return "postgres" }

// Write clears the target table and bulk-inserts all rows. Either the whole
// result set lands or the previous contents survive the rollback.
func (s *PostgresSink) Write(ctx context.Context, rows []Row) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a commit reports ErrTxClosed; that is the normal path.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	ident := pgx.Identifier{s.table}
	if _, err := tx.Exec(ctx, "DELETE FROM "+ident.Sanitize()); err != nil {
		return fmt.Errorf("failed to clear %s: %w", s.table, err)
	}

	computedAt := time.Now().UTC()
	copyRows := make([][]interface{}, len(rows))
	for i, r := range rows {
		copyRows[i] = []interface{}{r.ID, r.Score, computedAt}
	}

	copied, err := tx.CopyFrom(ctx, ident, []string{"id", "score", "computed_at"}, pgx.CopyFromRows(copyRows))
	if err != nil {
		return fmt.Errorf("failed to copy scores: %w", err)
	}
	if int(copied) != len(rows) {
		return fmt.Errorf("mismatch in copied score count: expected %d, got %d", len(rows), copied)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
