package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/fiscal-sync/internal/model"
)

var (
	syncRFC     string
	syncStart   string
	syncEnd     string
	syncDays    int
	syncIssued  bool
	syncTimeout time.Duration
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Download and store one taxpayer's documents for a date range",
	Long: `Authenticate with the taxpayer's FIEL, submit a bulk download request,
poll until the packages are ready, extract the income documents and store
them as a new batch.

Examples:
  fiscal-sync sync --rfc AAA010101AAA --start 2024-01-01 --end 2024-01-31
  fiscal-sync sync --rfc AAA010101AAA --days 4
  fiscal-sync sync --rfc AAA010101AAA --days 30 --issued -f table`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringVar(&syncRFC, "rfc", "", "Taxpayer RFC (required)")
	syncCmd.Flags().StringVar(&syncStart, "start", "", "First day of the range (YYYY-MM-DD)")
	syncCmd.Flags().StringVar(&syncEnd, "end", "", "Last day of the range (YYYY-MM-DD)")
	syncCmd.Flags().IntVar(&syncDays, "days", 0, "Use the last N days instead of --start/--end")
	syncCmd.Flags().BoolVar(&syncIssued, "issued", false, "Download issued instead of received documents")
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 90*time.Minute, "Overall sync timeout")
	_ = syncCmd.MarkFlagRequired("rfc")
}

func syncRange() (model.DateRange, error) {
	if syncDays > 0 {
		return model.LastDays(syncDays, time.Now()), nil
	}
	if syncStart == "" || syncEnd == "" {
		return model.DateRange{}, fmt.Errorf("either --days or both --start and --end are required")
	}
	return model.ParseDateRange(syncStart, syncEnd)
}

func runSync(cmd *cobra.Command, args []string) error {
	r, err := syncRange()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), syncTimeout)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	profile, ok := a.profiles.Find(syncRFC)
	if !ok {
		return fmt.Errorf("no profile for RFC %s", syncRFC)
	}

	pipeline, err := a.pipeline(ctx, syncIssued)
	if err != nil {
		return err
	}

	printVerbose("Syncing %s for %s\n", profile.RFC, r)
	res := pipeline.RunSync(ctx, *profile, r)
	if err := render(res, func(tw *tabwriter.Writer) { syncTable(tw, res) }); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("sync failed at %s: %s", stageName(res.Stage), res.Message)
	}
	return nil
}

func syncTable(tw *tabwriter.Writer, res *model.SyncResult) {
	fmt.Fprintf(tw, "BATCH\t%s\n", res.BatchID)
	fmt.Fprintf(tw, "REQUEST\t%s\n", res.RequestID)
	if !res.Success {
		fmt.Fprintf(tw, "ERROR\t%s: %s\n", stageName(res.Stage), res.Message)
		return
	}
	fmt.Fprintf(tw, "INVOICES\t%d\n\n", len(res.Invoices))
	invoiceTable(tw, res.Invoices)
	for _, w := range res.Warnings {
		fmt.Fprintf(tw, "WARNING\t%s\n", w)
	}
}

func invoiceTable(tw *tabwriter.Writer, invoices []model.InvoiceRecord) {
	fmt.Fprintln(tw, "UUID\tFOLIO\tDATE\tVENDOR\tRFC\tSUBTOTAL\tTAX\tTOTAL")
	fmt.Fprintln(tw, "----\t-----\t----\t------\t---\t--------\t---\t-----")
	for i := range invoices {
		inv := &invoices[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			inv.DocumentID(),
			inv.Folio,
			inv.Date.Format("2006-01-02"),
			inv.VendorName,
			inv.VendorTaxID,
			inv.Subtotal().StringFixed(2),
			inv.TaxAmount().StringFixed(2),
			inv.Total.StringFixed(2),
		)
	}
}

func stageName(s model.Stage) string {
	if s == "" {
		return "validation"
	}
	return string(s)
}
