package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/fiscal-sync/internal/model"
	"github.com/rezonia/fiscal-sync/internal/processor"
)

// defaultWindowDays matches the look-back of the scheduled ledger sync
const defaultWindowDays = 4

var (
	syncAllDays        int
	syncAllConcurrency int
	syncAllPublish     bool
	syncAllTimeout     time.Duration
)

var syncAllCmd = &cobra.Command{
	Use:   "sync-all",
	Short: "Run the daily sync for every taxpayer flagged daily_sync",
	Long: `Sync the last few days of received documents for every profile with
daily_sync enabled. Taxpayers are processed concurrently and independently;
one failure never stops the others.

Examples:
  fiscal-sync sync-all
  fiscal-sync sync-all --days 7 --concurrency 2
  fiscal-sync sync-all --publish -f table`,
	RunE: runSyncAll,
}

func init() {
	rootCmd.AddCommand(syncAllCmd)

	syncAllCmd.Flags().IntVar(&syncAllDays, "days", 0, "Look-back window in days (env: SYNC_WINDOW_DAYS, default 4)")
	syncAllCmd.Flags().IntVar(&syncAllConcurrency, "concurrency", 0, "Taxpayers synced at once (env: SYNC_CONCURRENCY)")
	syncAllCmd.Flags().BoolVar(&syncAllPublish, "publish", false, "Push each new batch to the taxpayer's ledger")
	syncAllCmd.Flags().DurationVar(&syncAllTimeout, "timeout", 3*time.Hour, "Overall run timeout")
}

// syncAllRow is one taxpayer's line in the run summary
type syncAllRow struct {
	RFC          string                   `json:"rfc"`
	Result       *model.SyncResult        `json:"result"`
	Publish      *processor.PublishReport `json:"publish,omitempty"`
	PublishError string                   `json:"publish_error,omitempty"`
}

func runSyncAll(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), syncAllTimeout)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	days := firstPositive(syncAllDays, cfg.Sync.WindowDays, defaultWindowDays)
	concurrency := firstPositive(syncAllConcurrency, cfg.Sync.Concurrency)

	profiles := a.profiles.DailySync()
	if len(profiles) == 0 {
		return fmt.Errorf("no profiles have daily_sync enabled")
	}

	pipeline, err := a.pipeline(ctx, false)
	if err != nil {
		return err
	}

	r := model.LastDays(days, time.Now())
	printVerbose("Syncing %d taxpayers for %s (concurrency %d)\n", len(profiles), r, concurrency)
	results := pipeline.SyncAll(ctx, profiles, r, concurrency)

	rows := make([]syncAllRow, len(profiles))
	failed := 0
	for i, res := range results {
		rows[i] = syncAllRow{RFC: profiles[i].RFC, Result: res}
		if !res.Success {
			failed++
		}
	}

	if syncAllPublish {
		pub, err := a.publisher(ctx)
		if err != nil {
			return err
		}
		for i, res := range results {
			if !res.Success || len(res.Invoices) == 0 || !profiles[i].Ledger.Configured() {
				continue
			}
			report, err := pub.Publish(ctx, profiles[i], res.BatchID)
			if err != nil {
				a.log.WithField("rfc", profiles[i].RFC).WithError(err).Error("publish failed")
				rows[i].Publish = report
				rows[i].PublishError = err.Error()
				failed++
				continue
			}
			rows[i].Publish = report
		}
	}

	if err := render(rows, func(tw *tabwriter.Writer) { syncAllTable(tw, rows) }); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d taxpayers failed", failed, len(profiles))
	}
	return nil
}

func syncAllTable(tw *tabwriter.Writer, rows []syncAllRow) {
	fmt.Fprintln(tw, "RFC\tBATCH\tINVOICES\tWARNINGS\tSTATUS")
	fmt.Fprintln(tw, "---\t-----\t--------\t--------\t------")
	for _, row := range rows {
		res := row.Result
		status := "ok"
		switch {
		case !res.Success:
			status = fmt.Sprintf("%s: %s", stageName(res.Stage), res.Message)
		case row.PublishError != "":
			status = "publish: " + row.PublishError
		case row.Publish != nil:
			status = fmt.Sprintf("published %d, duplicates %d", row.Publish.Created, row.Publish.Duplicates)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", row.RFC, res.BatchID, len(res.Invoices), len(res.Warnings), status)
	}
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
