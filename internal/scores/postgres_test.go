package scores

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var scoreColumns = []string{"id", "score", "computed_at"}

func TestNewPostgresSinkPingFailure(t *testing.T) {
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err = NewPostgresSink(context.Background(), mockPool, "harmonic_centrality", 0, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresSinkWrite(t *testing.T) {
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	sink, err := NewPostgresSink(context.Background(), mockPool, "harmonic_centrality", time.Minute, zap.NewNop())
	require.NoError(t, err)

	rows := []Row{
		{ID: "https://a.example/", Score: 2.5},
		{ID: "https://b.example/", Score: 1.0},
	}

	mockPool.ExpectBegin()
	mockPool.ExpectExec(regexp.QuoteMeta(`DELETE FROM "harmonic_centrality"`)).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mockPool.ExpectCopyFrom(pgx.Identifier{"harmonic_centrality"}, scoreColumns).
		WillReturnResult(2)
	// Commit, then the deferred Rollback that reports the closed transaction.
	mockPool.ExpectCommit()
	mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

	require.NoError(t, sink.Write(context.Background(), rows))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresSinkWriteCountMismatch(t *testing.T) {
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	sink, err := NewPostgresSink(context.Background(), mockPool, "harmonic_centrality", 0, zap.NewNop())
	require.NoError(t, err)

	rows := []Row{
		{ID: "https://a.example/", Score: 2.5},
		{ID: "https://b.example/", Score: 1.0},
	}

	mockPool.ExpectBegin()
	mockPool.ExpectExec(regexp.QuoteMeta(`DELETE FROM "harmonic_centrality"`)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mockPool.ExpectCopyFrom(pgx.Identifier{"harmonic_centrality"}, scoreColumns).
		WillReturnResult(1)
	mockPool.ExpectRollback()

	err = sink.Write(context.Background(), rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch in copied score count")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresSinkWriteClearFailure(t *testing.T) {
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	sink, err := NewPostgresSink(context.Background(), mockPool, "harmonic_centrality", 0, zap.NewNop())
	require.NoError(t, err)

	boom := errors.New("permission denied")
	mockPool.ExpectBegin()
	mockPool.ExpectExec(regexp.QuoteMeta(`DELETE FROM "harmonic_centrality"`)).
		WillReturnError(boom)
	mockPool.ExpectRollback()

	err = sink.Write(context.Background(), []Row{{ID: "https://a.example/", Score: 1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
