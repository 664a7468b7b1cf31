package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/afrith/dagflow/internal/connections"
	"github.com/afrith/dagflow/internal/dags"
	"github.com/afrith/dagflow/internal/engine"
	"github.com/afrith/dagflow/pkg/dagflow"
	"github.com/afrith/dagflow/pkg/dagflow/core"
	"github.com/afrith/dagflow/pkg/dagflow/models"
)

var (
	backfillFrom string
	backfillTo   string
	logicalDate  string
	runParams    []string
)

var dagsCmd = &cobra.Command{
	Use:   "dags",
	Short: "Inspect, validate and run dags",
}

var dagsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the builtin dags and those in GFLOW_DAGS_FOLDER",
	RunE: func(cmd *cobra.Command, args []string) error {
		conns, err := dagflow.LoadConnections()
		if err != nil {
			return err
		}
		registry, err := dagflow.LoadDags(conns)
		if err != nil {
			return err
		}
		return printDags(cmd.OutOrStdout(), registry.All(), outputJSON)
	},
}

var dagsValidateCmd = &cobra.Command{
	Use:   "validate [file...]",
	Short: "Validate YAML dag files, or every registered dag when no file is given",
	RunE: func(cmd *cobra.Command, args []string) error {
		conns := connections.NewRegistry()
		if len(args) == 0 {
			registry, err := dagflow.LoadDags(conns)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d dags are valid\n", registry.Len())
			return nil
		}
		for _, path := range args {
			d, err := dags.LoadFile(path, conns)
			if err != nil {
				return err
			}
			if err := dags.Validate(d); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s is valid\n", path, d.ID)
		}
		return nil
	},
}

var dagsTriggerCmd = &cobra.Command{
	Use:   "trigger <dag-id>",
	Short: "Queue a manual run in the metadata database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := models.TriggerRunRequest{}
		if logicalDate != "" {
			t, err := parseDate(logicalDate)
			if err != nil {
				return err
			}
			req.LogicalDate = &t
		}
		params, err := parseParams(runParams)
		if err != nil {
			return err
		}
		req.Params = params

		manager, closeDB, err := openManager()
		if err != nil {
			return err
		}
		defer closeDB()
		run, err := manager.TriggerRun(cmd.Context(), args[0], req)
		if err != nil {
			return err
		}
		if outputJSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(run)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", run.RunID)
		return nil
	},
}

var dagsBackfillCmd = &cobra.Command{
	Use:   "backfill <dag-id>",
	Short: "Queue runs for every interval between --from and --to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseDate(backfillFrom)
		if err != nil {
			return fmt.Errorf("--from: %w", err)
		}
		to, err := parseDate(backfillTo)
		if err != nil {
			return fmt.Errorf("--to: %w", err)
		}
		manager, closeDB, err := openManager()
		if err != nil {
			return err
		}
		defer closeDB()
		resp, err := manager.Backfill(cmd.Context(), args[0], from, to)
		if err != nil {
			return err
		}
		if outputJSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(resp)
		}
		for _, id := range resp.Created {
			fmt.Fprintf(cmd.OutOrStdout(), "queued  %s\n", id)
		}
		for _, id := range resp.Skipped {
			fmt.Fprintf(cmd.OutOrStdout(), "skipped %s\n", id)
		}
		return nil
	},
}

func init() {
	dagsTriggerCmd.Flags().StringVar(&logicalDate, "logical-date", "", "logical date of the run (default now)")
	dagsTriggerCmd.Flags().StringArrayVarP(&runParams, "param", "p", nil, "run parameter as key=value, repeatable")

	dagsBackfillCmd.Flags().StringVar(&backfillFrom, "from", "", "first logical date, e.g. 2025-12-21")
	dagsBackfillCmd.Flags().StringVar(&backfillTo, "to", "", "last logical date, inclusive")
	_ = dagsBackfillCmd.MarkFlagRequired("from")
	_ = dagsBackfillCmd.MarkFlagRequired("to")

	dagsCmd.AddCommand(dagsListCmd, dagsValidateCmd, dagsTriggerCmd, dagsBackfillCmd)
}

func openManager() (*engine.DagManager, func(), error) {
	conns, err := dagflow.LoadConnections()
	if err != nil {
		return nil, nil, err
	}
	registry, err := dagflow.LoadDags(conns)
	if err != nil {
		return nil, nil, err
	}
	db, err := dagflow.OpenDatabase()
	if err != nil {
		return nil, nil, err
	}
	return dagflow.NewManager(db, registry), func() { _ = db.Close(); _ = conns.Close() }, nil
}

func printDags(w io.Writer, list []*core.DAG, asJSON bool) error {
	if asJSON {
		out := make([]models.DagApiResponse, 0, len(list))
		for _, d := range list {
			out = append(out, models.DagApiResponse{
				DagID:       d.ID,
				Description: d.Description,
				Owner:       d.DefaultArgs.Owner,
				Schedule:    d.Schedule,
				StartDate:   d.StartDate,
				Catchup:     d.Catchup,
				Retries:     d.DefaultArgs.Retries,
				RetryDelay:  d.DefaultArgs.RetryDelay.String(),
				Tasks:       d.TaskIDs(),
			})
		}
		return json.NewEncoder(w).Encode(out)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DAG_ID\tSCHEDULE\tSTART_DATE\tCATCHUP\tTASKS")
	for _, d := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", d.ID, d.Schedule, d.StartDate.Format(time.DateOnly), d.Catchup,
			strings.Join(d.TaskIDs(), ","))
	}
	return tw.Flush()
}

// parseDate accepts a date or an RFC3339 timestamp, always in UTC.
func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.DateOnly, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse date %q", s)
}

func parseParams(kvs []string) (map[string]string, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("param %q is not key=value", kv)
		}
		params[k] = v
	}
	return params, nil
}
