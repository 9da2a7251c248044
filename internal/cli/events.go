package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/loom/internal/model"
)

// NewEventsCommand creates the events command group.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Handle cancellations, sickness and reoptimisation",
	}
	cmd.AddCommand(newEventsCancelCommand(rootOpts))
	cmd.AddCommand(newEventsSickCommand(rootOpts))
	cmd.AddCommand(newEventsReoptimizeCommand(rootOpts))
	return cmd
}

func newEventsCancelCommand(rootOpts *RootOptions) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "cancel <attendance-id>",
		Short: "Cancel a participant's attendance and reallocate",
		Long: `Cancel a participant's attendance. Cancellations inside the short-notice
threshold are billable. Staff and vehicles are reallocated for the new
participant count.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				res, err := a.svc.CancelParticipant(cmd.Context(), args[0], model.CancellationType(kind))
				if err != nil {
					return a.out.Fail("cancel participant", err)
				}
				return a.out.Success(res, func(w io.Writer) {
					att := res.Attendance
					fmt.Fprintf(w, "✓ %s cancelled (%s", att.ParticipantID, att.CancellationType)
					if att.HoursNotice != nil {
						fmt.Fprintf(w, ", %.1fh notice", *att.HoursNotice)
					}
					fmt.Fprintln(w, ")")
					if att.BillingImpact {
						fmt.Fprintln(w, "  ! billable cancellation")
					}
					printStaffResult(w, res.Allocation.Staff)
				})
			})
		},
	}
	cmd.Flags().StringVar(&kind, "type", string(model.CancelNormal), "cancellation type (normal|short_notice)")
	return cmd
}

func newEventsSickCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sick <shift-id>",
		Short: "Report a staff member sick for a shift",
		Long: `Mark the shift sick and look for a same-day replacement. When nobody is
free the shift is flagged for manual attention; that is a normal outcome,
not an error.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				res, err := a.svc.ReportStaffSickness(cmd.Context(), args[0])
				if err != nil {
					return a.out.Fail("report sickness", err)
				}
				return a.out.Success(res, func(w io.Writer) {
					fmt.Fprintf(w, "✓ %s marked sick\n", res.Shift.StaffID)
					if res.Substitute != nil {
						fmt.Fprintf(w, "  %s covers as %s\n", res.Substitute.StaffID, res.Substitute.Role)
					}
					if res.NeedsAttention {
						fmt.Fprintln(w, "  ! no replacement found; needs attention")
					}
				})
			})
		},
	}
}

func newEventsReoptimizeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "reoptimize <instance-id>",
		Short:         "Re-run every allocation step for an instance",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				res, err := a.svc.ReoptimizeInstance(cmd.Context(), args[0])
				if err != nil {
					return a.out.Fail("reoptimize", err)
				}
				return a.out.Success(res, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Reoptimised %s\n", res.InstanceID)
					printStaffResult(w, res.Staff)
					printVehicleResult(w, res.Vehicle)
				})
			})
		},
	}
}
