package bulksync

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var usersStaging = &Staging{name: "staging_users_f00dfeed0000", table: "users", rows: 2}

func TestBuildPlan_Statements(t *testing.T) {
	p, err := buildPlan(usersTable, usersStaging, Options{
		KeyFields: []string{"id"},
		Fields:    []string{"name"},
	})
	require.NoError(t, err)

	assert.Equal(t,
		`WITH ins AS (INSERT INTO "users" ("id", "name") SELECT s."id", s."name" FROM "staging_users_f00dfeed0000" AS s WHERE NOT EXISTS (SELECT 1 FROM "users" AS t WHERE t."id" = s."id") RETURNING "id"), drained AS (DELETE FROM "staging_users_f00dfeed0000" AS s USING ins WHERE s."id" = ins."id") SELECT COUNT(*) FROM ins`,
		p.insert)
	assert.Equal(t,
		`WITH upd AS (UPDATE "users" AS t SET "id" = s."id", "name" = s."name" FROM "staging_users_f00dfeed0000" AS s WHERE t."id" = s."id" RETURNING t."id"), drained AS (DELETE FROM "staging_users_f00dfeed0000" AS s USING upd WHERE s."id" = upd."id") SELECT COUNT(*) FROM upd`,
		p.update)
	assert.Equal(t,
		`CREATE TEMPORARY TABLE "staging_users_f00dfeed0000_keys" ON COMMIT DROP AS SELECT DISTINCT "id" FROM "staging_users_f00dfeed0000"`,
		p.snapshot)
	assert.Equal(t,
		`WITH del AS (DELETE FROM "users" AS t WHERE NOT EXISTS (SELECT 1 FROM "staging_users_f00dfeed0000_keys" AS k WHERE k."id" = t."id") RETURNING t."id") SELECT COUNT(*) FROM del`,
		p.delete)
}

func TestBuildPlan_CompositeKey(t *testing.T) {
	items := Table{Name: "items", Columns: []string{"region", "sku", "price", "stock"}}
	staging := &Staging{name: "staging_items_f00dfeed0000", table: "items", rows: 1}

	p, err := buildPlan(items, staging, Options{KeyFields: []string{"region", "sku"}})
	require.NoError(t, err)

	// Fields defaults to every target column; the key match spans both
	// key columns.
	assert.Contains(t, p.insert, `("region", "sku", "price", "stock")`)
	assert.Contains(t, p.insert, `t."region" = s."region" AND t."sku" = s."sku"`)
	assert.Contains(t, p.update, `t."region" = s."region" AND t."sku" = s."sku"`)
	assert.Contains(t, p.delete, `k."region" = t."region" AND k."sku" = t."sku"`)
	assert.Contains(t, p.snapshot, `SELECT DISTINCT "region", "sku"`)
}

func TestBuildPlan_ExcludedFieldIsNeverWritten(t *testing.T) {
	items := Table{Name: "items", Columns: []string{"sku", "price", "updated_by"}}
	staging := &Staging{name: "staging_items_f00dfeed0000", table: "items", rows: 1}

	p, err := buildPlan(items, staging, Options{
		KeyFields:     []string{"sku"},
		Fields:        []string{"price", "updated_by"},
		ExcludeFields: []string{"updated_by"},
	})
	require.NoError(t, err)

	assert.NotContains(t, p.insert, "updated_by")
	assert.NotContains(t, p.update, "updated_by")
}

func TestBuildPlan_KeysAlwaysInWriteSet(t *testing.T) {
	p, err := buildPlan(usersTable, usersStaging, Options{
		KeyFields: []string{"id"},
		Fields:    []string{"name"},
	})
	require.NoError(t, err)

	// The update SET clause retains the key column, so it stays valid
	// even when every candidate field is excluded.
	assert.True(t, strings.Contains(p.update, `SET "id" = s."id"`))

	p, err = buildPlan(usersTable, usersStaging, Options{
		KeyFields:     []string{"id"},
		Fields:        []string{"name"},
		ExcludeFields: []string{"name"},
	})
	require.NoError(t, err)
	assert.Contains(t, p.insert, `("id")`)
	assert.Contains(t, p.update, `SET "id" = s."id" FROM`)
}

func TestBuildPlan_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "noKeys", opts: Options{}},
		{name: "unknownKey", opts: Options{KeyFields: []string{"uuid"}}},
		{name: "excludedKey", opts: Options{KeyFields: []string{"id"}, ExcludeFields: []string{"id"}}},
		{name: "unknownField", opts: Options{KeyFields: []string{"id"}, Fields: []string{"nickname"}}},
		{name: "unknownExclude", opts: Options{KeyFields: []string{"id"}, ExcludeFields: []string{"nickname"}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := buildPlan(usersTable, usersStaging, tc.opts)
			require.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestBuildPlan_StagingTableMismatch(t *testing.T) {
	other := &Staging{name: "staging_items_f00dfeed0000", table: "items", rows: 1}

	_, err := buildPlan(usersTable, other, Options{KeyFields: []string{"id"}})
	require.ErrorIs(t, err, ErrConfig)
}

func TestReconcile_NilStagingIsZeroSummary(t *testing.T) {
	s, mock := newTestSyncer(t)
	mock.ExpectBegin()

	tx, err := s.db.Begin()
	require.NoError(t, err)

	sum, err := s.Reconcile(context.Background(), tx, usersTable, nil, Options{
		KeyFields: []string{"id"},
		Creates:   true, Updates: true, Deletes: true,
	})
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_DefaultOptionsSkipEverything(t *testing.T) {
	s, mock := newTestSyncer(t)
	mock.ExpectBegin()

	tx, err := s.db.Begin()
	require.NoError(t, err)

	sum, err := s.Reconcile(context.Background(), tx, usersTable, usersStaging, Options{
		KeyFields: []string{"id"},
	})
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
	// No statement reached the store.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_AllSteps(t *testing.T) {
	s, mock := newTestSyncer(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TEMPORARY TABLE "staging_users_f00dfeed0000_keys" ON COMMIT DROP AS SELECT DISTINCT "id" FROM "staging_users_f00dfeed0000"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`WITH ins AS (INSERT INTO "users"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta(`WITH upd AS (UPDATE "users" AS t`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta(`WITH del AS (DELETE FROM "users" AS t`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))

	tx, err := s.db.Begin()
	require.NoError(t, err)

	sum, err := s.Reconcile(context.Background(), tx, usersTable, usersStaging, Options{
		KeyFields: []string{"id"},
		Fields:    []string{"name"},
		Creates:   true, Updates: true, Deletes: true,
	})
	require.NoError(t, err)
	assert.Equal(t, Summary{Inserted: 1, Updated: 1, Deleted: 3}, sum)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_InsertOnlySkipsSnapshot(t *testing.T) {
	s, mock := newTestSyncer(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`WITH ins AS (INSERT INTO "users"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

	tx, err := s.db.Begin()
	require.NoError(t, err)

	sum, err := s.Reconcile(context.Background(), tx, usersTable, usersStaging, Options{
		KeyFields: []string{"id"},
		Creates:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, Summary{Inserted: 2}, sum)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_StepFailureIsStoreError(t *testing.T) {
	s, mock := newTestSyncer(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`WITH ins AS (INSERT INTO "users"`)).
		WillReturnError(errors.New("null value in column \"name\""))

	tx, err := s.db.Begin()
	require.NoError(t, err)

	sum, err := s.Reconcile(context.Background(), tx, usersTable, usersStaging, Options{
		KeyFields: []string{"id"},
		Creates:   true,
	})

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "insert step", storeErr.Op)
	assert.Equal(t, Summary{}, sum)
	require.NoError(t, mock.ExpectationsWereMet())
}
