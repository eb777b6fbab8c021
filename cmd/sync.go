package cmd

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/michalnik/bulk-sync/bulksync"
	"github.com/michalnik/bulk-sync/core/config"
	"github.com/michalnik/bulk-sync/core/database"
	"github.com/michalnik/bulk-sync/core/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	syncTable     string
	syncKeys      []string
	syncFields    []string
	syncExcludes  []string
	syncBatchSize int
	applyCreates  bool
	applyUpdates  bool
	applyDeletes  bool
)

// syncCmd reconciles a CSV file against a database table.
var syncCmd = &cobra.Command{
	Use:   "sync <csv-file>",
	Short: "Reconcile a CSV file against a table",
	Long: `Reconcile a CSV file against a PostgreSQL table.

The CSV header row names the columns; every following row is one desired-state
record. Values travel as statement parameters and are cast by Postgres against
the target column types.

All mutations are opt-in. Without --create, --update, or --delete the command
only stages the records and reports {0, 0, 0}.

Examples:
  # Insert missing rows and update matching ones
  bulk-sync sync users.csv --table users --key id --create --update

  # Full three-way sync on a composite key, leaving one column alone
  bulk-sync sync items.csv --table items --key region --key sku \
    --exclude updated_by --create --update --delete`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncTable, "table", "", "Target table name (required)")
	syncCmd.Flags().StringArrayVar(&syncKeys, "key", nil, "Key column identifying a row (repeatable, required)")
	syncCmd.Flags().StringArrayVar(&syncFields, "fields", nil, "Columns to sync (default: all CSV columns)")
	syncCmd.Flags().StringArrayVar(&syncExcludes, "exclude", nil, "Columns to leave untouched")
	syncCmd.Flags().IntVar(&syncBatchSize, "batch-size", 0, "Rows per staging insert (0 = single batch)")
	syncCmd.Flags().BoolVar(&applyCreates, "create", false, "Insert rows missing from the table")
	syncCmd.Flags().BoolVar(&applyUpdates, "update", false, "Update rows matched by key")
	syncCmd.Flags().BoolVar(&applyDeletes, "delete", false, "Delete table rows absent from the CSV")
	_ = syncCmd.MarkFlagRequired("table")
	_ = syncCmd.MarkFlagRequired("key")

	RootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	l, err := logger.New(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	columns, rows, err := readRecords(args[0])
	if err != nil {
		return err
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	syncer := bulksync.New(db,
		bulksync.WithLogger(l),
		bulksync.WithBatchSize(syncBatchSize),
	)

	summary, err := syncer.Sync(cmd.Context(),
		bulksync.Table{Name: syncTable, Columns: columns},
		rows,
		bulksync.Options{
			KeyFields:     syncKeys,
			Fields:        syncFields,
			ExcludeFields: syncExcludes,
			Creates:       applyCreates,
			Updates:       applyUpdates,
			Deletes:       applyDeletes,
		})
	if err != nil {
		return err
	}

	l.Info("sync finished",
		zap.String("table", syncTable),
		zap.Int64("inserted", summary.Inserted),
		zap.Int64("updated", summary.Updated),
		zap.Int64("deleted", summary.Deleted))
	return nil
}

// readRecords reads a CSV file into a column list and desired-state rows.
func readRecords(path string) ([]string, [][]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open records file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	all, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse records file: %w", err)
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("records file %s has no header row", path)
	}

	columns := all[0]
	rows := make([][]any, 0, len(all)-1)
	for _, record := range all[1:] {
		row := make([]any, len(record))
		for i, value := range record {
			row[i] = value
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}
