package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/afrith/dagflow/pkg/dagflow"
)

var outputJSON bool

var rootCmd = &cobra.Command{
	Use:   "dagflow",
	Short: "dagflow runs scheduled DAGs of bash and SQL tasks",
	Long: `dagflow schedules DAGs of bash and SQL tasks with catchup, backfill and retries,
recording every run in a metadata database.

Examples:
  # start the scheduler, workers and HTTP API
  dagflow serve

  # list the registered dags
  dagflow dags list

  # create backfill runs for a date range
  dagflow dags backfill dag_with_catchup_and_backfill_v02 --from 2025-12-21 --to 2025-12-23`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		dagflow.SetupLogger()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "print results as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dagsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
