package bulksync

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Reconcile diffs the staging relation against target and applies the steps
// enabled in opts, in insert, update, delete order. Each step is a single
// statement that both mutates the target and drains the staging rows it
// consumed, so every staged row is applied exactly once. Counts come from
// the mutating clause itself, never from the drain.
//
// A nil staging handle (nothing was staged) reconciles to an all-zero
// Summary without touching the store.
func (s *Syncer) Reconcile(ctx context.Context, tx *sql.Tx, target Table, staging *Staging, opts Options) (Summary, error) {
	var sum Summary
	if staging == nil {
		return sum, nil
	}

	plan, err := buildPlan(target, staging, opts)
	if err != nil {
		return sum, err
	}

	// The insert and update steps drain the staging relation, so the key
	// set the delete step compares against is snapshotted up front.
	if opts.Deletes {
		if _, err := tx.ExecContext(ctx, plan.snapshot); err != nil {
			return Summary{}, &StoreError{Op: "snapshot staged keys", Err: err}
		}
	}

	if opts.Creates {
		if err := tx.QueryRowContext(ctx, plan.insert).Scan(&sum.Inserted); err != nil {
			return Summary{}, &StoreError{Op: "insert step", Err: err}
		}
	}
	if opts.Updates {
		if err := tx.QueryRowContext(ctx, plan.update).Scan(&sum.Updated); err != nil {
			return Summary{}, &StoreError{Op: "update step", Err: err}
		}
	}
	if opts.Deletes {
		if err := tx.QueryRowContext(ctx, plan.delete).Scan(&sum.Deleted); err != nil {
			return Summary{}, &StoreError{Op: "delete step", Err: err}
		}
	}

	s.log.Info("reconciled table",
		zap.String("table", target.Name),
		zap.Int64("inserted", sum.Inserted),
		zap.Int64("updated", sum.Updated),
		zap.Int64("deleted", sum.Deleted))
	return sum, nil
}

// plan holds the statements for one reconciliation call. Identifiers are
// validated and quoted while building it; values never appear in these
// statements, they all live in the staging relation already.
type plan struct {
	snapshot string
	insert   string
	update   string
	delete   string
}

func buildPlan(target Table, staging *Staging, opts Options) (*plan, error) {
	if staging.table != target.Name {
		return nil, fmt.Errorf("%w: staging relation %q was built for table %q, not %q",
			ErrConfig, staging.name, staging.table, target.Name)
	}
	if len(opts.KeyFields) == 0 {
		return nil, fmt.Errorf("%w: at least one key field is required", ErrConfig)
	}

	columns := newFieldSet(target.Columns...)
	keys := newFieldSet(opts.KeyFields...)
	fields := newFieldSet(opts.Fields...)
	if fields.Len() == 0 {
		fields = columns
	}
	excludes := newFieldSet(opts.ExcludeFields...)

	for _, key := range keys.Names() {
		if !columns.Contains(key) {
			return nil, fmt.Errorf("%w: key field %q is not a column of %q", ErrConfig, key, target.Name)
		}
		if excludes.Contains(key) {
			return nil, fmt.Errorf("%w: key field %q cannot be excluded", ErrConfig, key)
		}
	}
	for _, field := range fields.Names() {
		if !columns.Contains(field) {
			return nil, fmt.Errorf("%w: field %q is not a column of %q", ErrConfig, field, target.Name)
		}
	}
	for _, field := range excludes.Names() {
		if !columns.Contains(field) {
			return nil, fmt.Errorf("%w: excluded field %q is not a column of %q", ErrConfig, field, target.Name)
		}
	}

	// Key columns are always written; excludes only trim the candidates.
	writeSet := keys.Union(fields.Difference(excludes))

	tableIdent, err := quoteIdentifier(target.Name)
	if err != nil {
		return nil, fmt.Errorf("table: %w", err)
	}
	stagingIdent, err := quoteIdentifier(staging.name)
	if err != nil {
		return nil, fmt.Errorf("staging relation: %w", err)
	}
	snapshotIdent, err := quoteIdentifier(staging.name + "_keys")
	if err != nil {
		return nil, fmt.Errorf("key snapshot relation: %w", err)
	}

	quotedWrite, err := quoteAll(writeSet.Names())
	if err != nil {
		return nil, err
	}
	quotedKeys, err := quoteAll(keys.Names())
	if err != nil {
		return nil, err
	}

	p := &plan{}

	p.insert = fmt.Sprintf(
		"WITH ins AS (INSERT INTO %s (%s) SELECT %s FROM %s AS s WHERE NOT EXISTS (SELECT 1 FROM %s AS t WHERE %s) RETURNING %s), drained AS (DELETE FROM %s AS s USING ins WHERE %s) SELECT COUNT(*) FROM ins",
		tableIdent,
		strings.Join(quotedWrite, ", "),
		strings.Join(qualify("s", quotedWrite), ", "),
		stagingIdent,
		tableIdent,
		matchOn("t", "s", quotedKeys),
		strings.Join(quotedKeys, ", "),
		stagingIdent,
		matchOn("s", "ins", quotedKeys),
	)

	p.update = fmt.Sprintf(
		"WITH upd AS (UPDATE %s AS t SET %s FROM %s AS s WHERE %s RETURNING %s), drained AS (DELETE FROM %s AS s USING upd WHERE %s) SELECT COUNT(*) FROM upd",
		tableIdent,
		strings.Join(assignFrom("s", quotedWrite), ", "),
		stagingIdent,
		matchOn("t", "s", quotedKeys),
		strings.Join(qualify("t", quotedKeys), ", "),
		stagingIdent,
		matchOn("s", "upd", quotedKeys),
	)

	p.snapshot = fmt.Sprintf(
		"CREATE TEMPORARY TABLE %s ON COMMIT DROP AS SELECT DISTINCT %s FROM %s",
		snapshotIdent,
		strings.Join(quotedKeys, ", "),
		stagingIdent,
	)

	p.delete = fmt.Sprintf(
		"WITH del AS (DELETE FROM %s AS t WHERE NOT EXISTS (SELECT 1 FROM %s AS k WHERE %s) RETURNING %s) SELECT COUNT(*) FROM del",
		tableIdent,
		snapshotIdent,
		matchOn("k", "t", quotedKeys),
		strings.Join(qualify("t", quotedKeys), ", "),
	)

	return p, nil
}

func quoteAll(names []string) ([]string, error) {
	quoted := make([]string, len(names))
	for i, name := range names {
		q, err := quoteIdentifier(name)
		if err != nil {
			return nil, err
		}
		quoted[i] = q
	}
	return quoted, nil
}

// qualify prefixes each quoted column with a relation alias.
func qualify(alias string, quoted []string) []string {
	out := make([]string, len(quoted))
	for i, col := range quoted {
		out[i] = fmt.Sprintf("%s.%s", alias, col)
	}
	return out
}

// matchOn builds the key equality predicate joining two aliased relations.
func matchOn(left, right string, quotedKeys []string) string {
	parts := make([]string, len(quotedKeys))
	for i, key := range quotedKeys {
		parts[i] = fmt.Sprintf("%s.%s = %s.%s", left, key, right, key)
	}
	return strings.Join(parts, " AND ")
}

// assignFrom builds SET clauses assigning each column from an aliased
// relation. Key columns stay in the list, which keeps the clause non-empty
// even when every candidate field is excluded; assigning a joined key to
// itself is a no-op.
func assignFrom(alias string, quoted []string) []string {
	out := make([]string, len(quoted))
	for i, col := range quoted {
		out[i] = fmt.Sprintf("%s = %s.%s", col, alias, col)
	}
	return out
}
