package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
	"github.com/couchcryptid/collision-forecast-service/internal/pipeline"
)

func newIngestCmd(a *app) *cobra.Command {
	var (
		startDate, endDate, table string
		dryRun, replace           bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Backfill a date range of one source table into the warehouse",
		Example: `  collisions ingest --start_date 2021-09-01 --end_date 2021-09-30 --table crashes
  collisions ingest --start_date 2021-09-11 --end_date 2021-09-11 --table person --dryrun`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, err := domain.ParseDate(startDate)
			if err != nil {
				return fmt.Errorf("--start_date: %w", err)
			}
			end, err := domain.ParseDate(endDate)
			if err != nil {
				return fmt.Errorf("--end_date: %w", err)
			}
			rng, err := domain.NewDateRange(start, end)
			if err != nil {
				return err
			}
			if table != domain.TableCrashes && table != domain.TablePerson {
				return fmt.Errorf("--table must be %s or %s", domain.TableCrashes, domain.TablePerson)
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "DRY RUN: %s would be backfilled for %s (%d days)\n", table, rng, rng.Len())
				return nil
			}
			if !cmd.Flags().Changed("replace") {
				replace = a.cfg.IngestReplace
			}
			defer a.pushMetrics("collisions_ingest")

			in, err := a.ingestor(cmd.Context())
			if err != nil {
				return err
			}
			report, err := in.Run(cmd.Context(), pipeline.IngestRequest{
				SourceTable: table,
				TargetTable: a.cfg.WarehouseTable(table),
				Start:       rng.Start,
				End:         rng.End,
				Replace:     replace,
			})
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			if err != nil {
				return err
			}
			return report.Err()
		},
	}
	cmd.Flags().StringVar(&startDate, "start_date", "", "first day to load, YYYY-MM-DD")
	cmd.Flags().StringVar(&endDate, "end_date", "", "last day to load, YYYY-MM-DD (inclusive)")
	cmd.Flags().StringVar(&table, "table", "", "source table: crashes or person")
	cmd.Flags().BoolVar(&dryRun, "dryrun", false, "print the resolved range without fetching or writing")
	cmd.Flags().BoolVar(&replace, "replace", true, "delete each day's rows before inserting (default from INGEST_REPLACE)")
	_ = cmd.MarkFlagRequired("start_date") //nolint:errcheck // flag is defined above
	_ = cmd.MarkFlagRequired("end_date")   //nolint:errcheck // flag is defined above
	_ = cmd.MarkFlagRequired("table")      //nolint:errcheck // flag is defined above
	return cmd
}

func printReport(w io.Writer, r *pipeline.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "DATE\tFETCHED\tDROPPED\tDELETED\tINSERTED\tSTATUS\n")
	for _, d := range r.Days {
		status := "ok"
		switch {
		case d.Err != nil:
			status = "failed: " + d.Err.Error()
		case d.Truncated:
			status = "ok (hit page cap)"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n",
			domain.FormatDate(d.Date), d.Fetched, d.Dropped, d.Deleted, d.Inserted, status)
	}
	_ = tw.Flush() //nolint:errcheck // terminal output
	fmt.Fprintf(w, "%s %s: %d days, %d failed\n", r.Table, r.Range, len(r.Days), len(r.Failed()))
}
