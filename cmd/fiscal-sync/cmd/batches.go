package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rezonia/fiscal-sync/internal/model"
)

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "Inspect stored batches",
}

var batchesListCmd = &cobra.Command{
	Use:   "list <tenant>",
	Short: "List a tenant's executed batches, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchesList,
}

var batchesShowCmd = &cobra.Command{
	Use:   "show <batch-id>",
	Short: "Show one batch and its invoice records",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchesShow,
}

var batchesPendingCmd = &cobra.Command{
	Use:   "pending <tenant>",
	Short: "List placeholders that never committed (interrupted runs)",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchesPending,
}

func init() {
	rootCmd.AddCommand(batchesCmd)
	batchesCmd.AddCommand(batchesListCmd, batchesShowCmd, batchesPendingCmd)
}

func runBatchesList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	batches, err := a.ledger.ListBatchesByTenant(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return render(batches, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "BATCH\tSTART\tEND\tCOUNT\tCREATED")
		fmt.Fprintln(tw, "-----\t-----\t---\t-----\t-------")
		for _, b := range batches {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
				b.BatchID, b.StartDate, b.EndDate, b.Count, b.CreatedAt.Format("2006-01-02 15:04:05"))
		}
	})
}

func runBatchesShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	b, err := a.ledger.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return render(b, func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "BATCH\t%s\n", b.ID)
		fmt.Fprintf(tw, "TENANT\t%s\n", b.Tenant)
		fmt.Fprintf(tw, "RANGE\t%s\n", b.Range)
		fmt.Fprintf(tw, "STATUS\t%s\n\n", b.Status)
		invoiceTable(tw, b.Invoices)
	})
}

func runBatchesPending(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	pending, err := a.ledger.ListPending(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return render(pending, func(tw *tabwriter.Writer) { pendingTable(tw, pending) })
}

func pendingTable(tw *tabwriter.Writer, pending []model.Batch) {
	fmt.Fprintln(tw, "BATCH\tRANGE\tCREATED")
	fmt.Fprintln(tw, "-----\t-----\t-------")
	for _, b := range pending {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", b.ID, b.Range, b.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}
