package cmd

import (
	"fmt"
	"os"

	"github.com/michalnik/bulk-sync/core/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "bulk-sync",
	Short: "Bulk table reconciliation for PostgreSQL",
	Long: `bulk-sync reconciles a batch of desired-state records against a PostgreSQL
table using staged bulk SQL: records are copied into a temporary relation and
the insert/update/delete sets are computed and applied inside the database,
in one transaction.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		// Console format at debug level so CLI failures come out readable.
		cfg := &logger.Config{
			Level:  "debug",
			Format: "console",
		}

		l, logErr := logger.New(cfg)
		if logErr == nil {
			l.Error("command failed", zap.Error(err))
			_ = l.Sync()
		} else {
			// Absolute fallback if logger creation fails (rare).
			fmt.Println(err)
		}
		os.Exit(1)
	}
}
