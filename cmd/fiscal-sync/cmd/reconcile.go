package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var reconcileRFC string

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <batch-id>",
	Short: "Check which invoices of a batch already exist as Zoho Books bills",
	Long: `Look up every invoice of a stored batch among the taxpayer's Zoho Books
bills. A bill matches when the vendor name and amount agree and its date is
within the taxpayer's tolerance window.

Examples:
  fiscal-sync reconcile 6f1c... --rfc AAA010101AAA -f table`,
	Args: cobra.ExactArgs(1),
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringVar(&reconcileRFC, "rfc", "", "Taxpayer RFC (required)")
	_ = reconcileCmd.MarkFlagRequired("rfc")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	profile, ok := a.profiles.Find(reconcileRFC)
	if !ok {
		return fmt.Errorf("no profile for RFC %s", reconcileRFC)
	}
	pub, err := a.publisher(ctx)
	if err != nil {
		return err
	}

	results, err := pub.Check(ctx, *profile, args[0])
	if err != nil {
		return err
	}
	return render(results, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "UUID\tVENDOR\tAMOUNT\tDATE\tEXISTS\tBILL")
		fmt.Fprintln(tw, "----\t------\t------\t----\t------\t----")
		for _, r := range results {
			exists := "no"
			switch {
			case r.Error != "":
				exists = "ERROR: " + r.Error
			case r.Exists:
				exists = "yes"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.DocumentID, r.VendorName, r.Amount, r.Date, exists, r.BillID)
		}
	})
}
