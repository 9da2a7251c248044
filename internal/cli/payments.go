package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/loom/internal/model"
)

// NewPaymentsCommand creates the payments command group.
func NewPaymentsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "List and bill payment diamonds",
	}
	cmd.AddCommand(newPaymentsListCommand(rootOpts))
	cmd.AddCommand(newPaymentsBillCommand(rootOpts))
	return cmd
}

func newPaymentsListCommand(rootOpts *RootOptions) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List payment diamonds",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				ds, err := a.svc.ListPayments(cmd.Context(), model.PaymentStatus(status))
				if err != nil {
					return a.out.Fail("list payments", err)
				}
				if ds == nil {
					ds = []model.PaymentDiamond{}
				}
				return a.out.Success(ds, func(w io.Writer) { printPayments(w, ds) })
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", string(model.PaymentPending), "pending, billed, or empty for all")
	return cmd
}

func newPaymentsBillCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bill <payment-id>...",
		Short: "Mark pending payment diamonds billed",
		Long: `Mark payment diamonds billed. Every id must be pending; if any is not,
none are changed.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				ds, err := a.svc.MarkBilled(cmd.Context(), args)
				if err != nil {
					return a.out.Fail("mark billed", err)
				}
				return a.out.Success(ds, func(w io.Writer) {
					fmt.Fprintf(w, "✓ %d payment(s) billed, total %s\n", len(ds), total(ds).StringFixed(2))
				})
			})
		},
	}
}

func printPayments(w io.Writer, ds []model.PaymentDiamond) {
	if len(ds) == 0 {
		fmt.Fprintln(w, "No payments.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPARTICIPANT\tRATE\tUNITS\tAMOUNT\tREASON\tSTATUS")
	for _, d := range ds {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.ParticipantID, d.RateCode, d.Units, d.Amount.StringFixed(2), d.Reason, d.Status)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "Total: %s\n", total(ds).StringFixed(2))
}

func total(ds []model.PaymentDiamond) decimal.Decimal {
	sum := decimal.Zero
	for _, d := range ds {
		sum = sum.Add(d.Amount)
	}
	return sum
}
