package dependency

import (
	"context"
	"database/sql"
	"time"

	"github.com/jekabolt/sales-rollup/internal/dto"
	"github.com/jekabolt/sales-rollup/internal/entity"
	"github.com/jmoiron/sqlx"
)

type (
	ContextStore interface {
		Tx(ctx context.Context, fn func(ctx context.Context, store Repository) error) error
	}

	Rollups interface {
		ContextStore
		// SaveDailyRollups upserts finalized buckets keyed by (account, date).
		SaveDailyRollups(ctx context.Context, accountId string, buckets []entity.DailyBucket) error
		// GetDailyRollups returns stored rollups in [startDate, endDate], ordered by date.
		GetDailyRollups(ctx context.Context, accountId string, startDate, endDate string) ([]entity.StoredDailyRollup, error)
	}

	Runs interface {
		// SaveRun records a finished reconciliation attempt.
		SaveRun(ctx context.Context, run *entity.RollupRun) error
		// GetLastRun returns the most recent run of the account or sql.ErrNoRows.
		GetLastRun(ctx context.Context, accountId string) (*entity.RollupRun, error)
	}

	Repository interface {
		Rollups() Rollups
		Runs() Runs
		Tx(ctx context.Context, f func(context.Context, Repository) error) error
		TxBegin(ctx context.Context) (Repository, error)
		TxCommit(ctx context.Context) error
		TxRollback(ctx context.Context) error
		Now() time.Time
		InTx() bool
		Close()
		Ping(ctx context.Context) error
		IsErrorRepeat(err error) bool
		DB() DB
	}

	// DB represents database interface.
	DB interface {
		BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
		ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)

		// sqlx methods
		GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
		QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
		QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
		SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	}

	// Reconciler rebuilds daily rollups for one account.
	Reconciler interface {
		Reconcile(ctx context.Context, acc *entity.Account, startDate, endDate string) (*entity.ReconciliationResult, error)
	}

	// ResultCache keeps recent reconciliation responses.
	ResultCache interface {
		Get(ctx context.Context, accountId, startDate, endDate string) (*dto.ReconciliationResponse, error)
		Set(ctx context.Context, resp *dto.ReconciliationResponse) error
		Close() error
	}

	// Publisher announces finished reconciliations.
	Publisher interface {
		PublishReconciled(ctx context.Context, res *entity.ReconciliationResult) error
		Close() error
	}
)
