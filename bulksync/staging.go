package bulksync

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Staging identifies a populated staging relation. It is private to the
// transaction that created it and is dropped by the store at commit.
type Staging struct {
	name  string
	table string
	rows  int
}

// Name returns the staging relation's name.
func (st *Staging) Name() string {
	return st.name
}

// Rows returns how many records were staged.
func (st *Staging) Rows() int {
	return st.rows
}

// Stage creates a temporary relation mirroring target's columns and bulk
// loads rows into it in batches. It returns a nil handle with no error when
// there is nothing to stage: an empty slice, or a first record whose shape
// cannot be determined. Records that disagree with the first record's shape
// fail with ErrTypeMismatch before any statement is issued.
func (s *Syncer) Stage(ctx context.Context, tx *sql.Tx, target Table, rows [][]any) (*Staging, error) {
	if len(rows) == 0 {
		s.log.Debug("no records to stage", zap.String("table", target.Name))
		return nil, nil
	}

	width := len(rows[0])
	if width == 0 {
		// Nothing to reconcile; mirrors the historical behavior of
		// absorbing shapeless input instead of failing.
		s.log.Warn("cannot determine record shape, skipping staging",
			zap.String("table", target.Name))
		return nil, nil
	}
	if width != len(target.Columns) {
		return nil, fmt.Errorf("%w: record has %d values, table %q has %d columns",
			ErrTypeMismatch, width, target.Name, len(target.Columns))
	}
	for i, row := range rows[1:] {
		if len(row) != width {
			return nil, fmt.Errorf("%w: record %d has %d values, expected %d",
				ErrTypeMismatch, i+1, len(row), width)
		}
	}

	tableIdent, err := quoteIdentifier(target.Name)
	if err != nil {
		return nil, fmt.Errorf("table: %w", err)
	}
	quotedColumns := make([]string, len(target.Columns))
	for i, col := range target.Columns {
		quoted, err := quoteIdentifier(col)
		if err != nil {
			return nil, fmt.Errorf("column[%d]: %w", i, err)
		}
		quotedColumns[i] = quoted
	}

	name := stagingName(target.Name, s.suffix())
	stagingIdent, err := quoteIdentifier(name)
	if err != nil {
		return nil, fmt.Errorf("staging relation: %w", err)
	}

	// The relation must exist before any data is written; ON COMMIT DROP
	// scopes it to the enclosing transaction.
	create := fmt.Sprintf("CREATE TEMPORARY TABLE %s ON COMMIT DROP AS SELECT %s FROM %s LIMIT 0",
		stagingIdent, strings.Join(quotedColumns, ", "), tableIdent)
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return nil, &StoreError{Op: "create staging relation", Err: err}
	}

	batch := s.batchSize
	if batch <= 0 {
		batch = len(rows)
	}
	for start := 0; start < len(rows); start += batch {
		end := min(start+batch, len(rows))
		if err := bulkInsert(ctx, tx, stagingIdent, quotedColumns, rows[start:end]); err != nil {
			return nil, err
		}
	}

	s.log.Debug("staged records",
		zap.String("table", target.Name),
		zap.String("staging", name),
		zap.Int("rows", len(rows)))
	return &Staging{name: name, table: target.Name, rows: len(rows)}, nil
}

// bulkInsert loads one batch of rows with a multi-row parameterized insert.
func bulkInsert(ctx context.Context, tx *sql.Tx, tableIdent string, quotedColumns []string, rows [][]any) error {
	placeholders := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(quotedColumns))
	argIdx := 1
	for i, row := range rows {
		rowPlaceholders := make([]string, len(quotedColumns))
		for j := range quotedColumns {
			rowPlaceholders[j] = fmt.Sprintf("$%d", argIdx)
			args = append(args, row[j])
			argIdx++
		}
		placeholders[i] = fmt.Sprintf("(%s)", strings.Join(rowPlaceholders, ", "))
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		tableIdent, strings.Join(quotedColumns, ", "), strings.Join(placeholders, ", "))
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return &StoreError{Op: "bulk load staging relation", Err: err}
	}
	return nil
}
