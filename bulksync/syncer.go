package bulksync

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
)

// Table describes the persistent relation being reconciled: its name and the
// ordered column list the staging relation mirrors.
type Table struct {
	Name    string
	Columns []string
}

// Options selects which reconciliation steps run and which columns they
// touch. The zero value applies nothing: every operation is opt-in so a
// misconfigured call can never mass-mutate a table by accident.
type Options struct {
	// KeyFields are the columns whose combined values identify a row.
	// Required; they are always part of the written column set and can
	// never be excluded.
	KeyFields []string
	// Fields are the candidate columns to sync. Empty means all target
	// columns.
	Fields []string
	// ExcludeFields are columns omitted from the written set even when
	// present in Fields.
	ExcludeFields []string

	Creates bool
	Updates bool
	Deletes bool
}

// Summary reports how many rows each enabled step applied. A skipped step
// reports zero.
type Summary struct {
	Inserted int64
	Updated  int64
	Deleted  int64
}

// Syncer stages records into temporary relations and reconciles them against
// target tables on a single database handle.
type Syncer struct {
	db        *sql.DB
	log       *zap.Logger
	batchSize int
	suffix    func() string
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.log = l
		}
	}
}

// WithBatchSize bounds the number of rows per staging insert statement.
// Zero or negative loads everything in a single batch. Batching only exists
// to respect driver statement limits; it does not change the result.
func WithBatchSize(n int) Option {
	return func(s *Syncer) {
		s.batchSize = n
	}
}

func New(db *sql.DB, opts ...Option) *Syncer {
	s := &Syncer{
		db:     db,
		log:    zap.NewNop(),
		suffix: newStagingSuffix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync stages rows and reconciles them against target inside one
// transaction. Any failure rolls back every effect of the call, including
// rows already drained from the staging relation.
func (s *Syncer) Sync(ctx context.Context, target Table, rows [][]any, opts Options) (Summary, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Summary{}, &StoreError{Op: "begin transaction", Err: err}
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	staging, err := s.Stage(ctx, tx, target, rows)
	if err != nil {
		return Summary{}, err
	}

	sum, err := s.Reconcile(ctx, tx, target, staging, opts)
	if err != nil {
		return Summary{}, err
	}

	if err := tx.Commit(); err != nil {
		return Summary{}, &StoreError{Op: "commit transaction", Err: err}
	}
	committed = true
	return sum, nil
}
