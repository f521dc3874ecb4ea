package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rezonia/fiscal-sync/internal/processor"
)

var publishRFC string

var publishCmd = &cobra.Command{
	Use:   "publish <batch-id>",
	Short: "Create Zoho Books bills for the invoices of a batch",
	Long: `Push every not-yet-sent invoice of a stored batch to the taxpayer's Zoho
Books organization. Invoices that already exist as bills are marked as sent
without creating a duplicate. Vendors, items and taxes are looked up by name
and created when missing.

Examples:
  fiscal-sync publish 6f1c... --rfc AAA010101AAA`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)

	publishCmd.Flags().StringVar(&publishRFC, "rfc", "", "Taxpayer RFC (required)")
	_ = publishCmd.MarkFlagRequired("rfc")
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	profile, ok := a.profiles.Find(publishRFC)
	if !ok {
		return fmt.Errorf("no profile for RFC %s", publishRFC)
	}
	pub, err := a.publisher(ctx)
	if err != nil {
		return err
	}

	report, runErr := pub.Publish(ctx, *profile, args[0])
	if report != nil {
		if err := render(report, func(tw *tabwriter.Writer) { publishTable(tw, report) }); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d invoices could not be published", report.Failed)
	}
	return nil
}

func publishTable(tw *tabwriter.Writer, report *processor.PublishReport) {
	fmt.Fprintln(tw, "UUID\tVENDOR\tSTATUS\tBILL")
	fmt.Fprintln(tw, "----\t------\t------\t----")
	for _, item := range report.Items {
		status := string(item.Status)
		if item.Error != "" {
			status += ": " + item.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", item.DocumentID, item.VendorName, status, item.BillID)
	}
	fmt.Fprintf(tw, "\ncreated %d, duplicates %d, skipped %d, failed %d\n",
		report.Created, report.Duplicates, report.Skipped, report.Failed)
}
