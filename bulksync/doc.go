// Package bulksync reconciles an in-memory set of desired-state rows against
// a PostgreSQL table using staged bulk SQL.
//
// Records are first copied into a session-scoped temporary relation mirroring
// the target table (the staging relation). The engine then computes, entirely
// inside the database, which staged rows are new (insert), which match an
// existing row by key (update), and which target rows have no staged
// counterpart (delete). Each step combines its DML with a drain of the
// staging relation in a single statement, so a staged row is consumed exactly
// once by the step that applied it.
//
// All three operations are opt-in; the zero value of Options applies nothing.
// Staging and reconciliation run inside one transaction, so a failed call
// leaves both relations untouched.
//
// Table and column names come from schema metadata supplied by the caller and
// pass through identifier validation before they are interpolated; row values
// only ever travel as statement parameters.
package bulksync
