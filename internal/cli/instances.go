package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/loom/internal/allocator"
	"github.com/roach88/loom/internal/model"
	"github.com/roach88/loom/internal/service"
)

// InstancesOptions holds flags for the instances commands.
type InstancesOptions struct {
	*RootOptions
	Start string
	End   string
}

// EditOptions holds flags for instances edit.
type EditOptions struct {
	*RootOptions
	Start     string
	End       string
	Venue     string
	Transport bool
}

// NewInstancesCommand creates the instances command group.
func NewInstancesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "Read, edit and reallocate instances",
	}
	cmd.AddCommand(newInstancesListCommand(rootOpts))
	cmd.AddCommand(newInstancesShowCommand(rootOpts))
	cmd.AddCommand(newInstancesEditCommand(rootOpts))
	cmd.AddCommand(newInstancesClearOverrideCommand(rootOpts))
	cmd.AddCommand(newInstancesAllocateCommand(rootOpts))
	cmd.AddCommand(newAttendanceStatusCommand(rootOpts))
	return cmd
}

func newInstancesListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InstancesOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List instances in a date range",
		Long: `List instances with their allocation and shortfall flags. Without
--start and --end the whole window is listed.

Example:
  loom instances list --start 2026-10-19 --end 2026-10-26`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts.RootOptions, cmd, func(a *app) error {
				ctx := cmd.Context()
				if opts.Start == "" || opts.End == "" {
					win, err := a.svc.GetWindow(ctx)
					if err != nil {
						return a.out.Fail("list instances", err)
					}
					if opts.Start == "" {
						opts.Start = model.FormatDate(win.Start)
					}
					if opts.End == "" {
						opts.End = model.FormatDate(win.End)
					}
				}
				start, err := model.ParseDate(opts.Start)
				if err != nil {
					return a.out.Fail("list instances", model.Validationf("--start: %v", err))
				}
				end, err := model.ParseDate(opts.End)
				if err != nil {
					return a.out.Fail("list instances", model.Validationf("--end: %v", err))
				}
				insts, err := a.svc.GetInstances(ctx, start, end)
				if err != nil {
					return a.out.Fail("list instances", err)
				}
				if insts == nil {
					insts = []model.Instance{}
				}
				return a.out.Success(insts, func(w io.Writer) { printInstances(w, insts) })
			})
		},
	}
	cmd.Flags().StringVar(&opts.Start, "start", "", "first date, YYYY-MM-DD (default window start)")
	cmd.Flags().StringVar(&opts.End, "end", "", "end date, exclusive (default window end)")
	return cmd
}

func newInstancesShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <instance-id>",
		Short:         "Show one instance with its rows",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				inst, err := a.svc.GetInstance(cmd.Context(), args[0])
				if err != nil {
					return a.out.Fail("show instance", err)
				}
				return a.out.Success(inst, func(w io.Writer) { printInstance(w, inst) })
			})
		},
	}
}

func newInstancesEditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EditOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "edit <instance-id>",
		Short: "Apply an operator edit; the instance is then kept by projection",
		Long: `Apply an operator edit. Only the flags given are changed. The instance is
marked overridden, so later projection passes leave it alone until the
override is cleared.

Example:
  loom instances edit 0192... --start 13:00 --end 15:00 --venue hall`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts.RootOptions, cmd, func(a *app) error {
				edit, err := opts.edit(cmd)
				if err != nil {
					return a.out.Fail("edit instance", err)
				}
				inst, err := a.svc.EditInstance(cmd.Context(), args[0], edit)
				if err != nil {
					return a.out.Fail("edit instance", err)
				}
				return a.out.Success(inst, func(w io.Writer) {
					fmt.Fprintln(w, "✓ Instance edited")
					printInstance(w, inst)
				})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Start, "start", "", "new start, HH:MM")
	cmd.Flags().StringVar(&opts.End, "end", "", "new end, HH:MM")
	cmd.Flags().StringVar(&opts.Venue, "venue", "", "new venue id")
	cmd.Flags().BoolVar(&opts.Transport, "transport", false, "whether the instance needs a vehicle")
	return cmd
}

func (o *EditOptions) edit(cmd *cobra.Command) (service.InstanceEdit, error) {
	var edit service.InstanceEdit
	flags := cmd.Flags()
	if flags.Changed("start") {
		t, err := model.ParseTimeOfDay(o.Start)
		if err != nil {
			return edit, model.Validationf("--start: %v", err)
		}
		edit.Start = &t
	}
	if flags.Changed("end") {
		t, err := model.ParseTimeOfDay(o.End)
		if err != nil {
			return edit, model.Validationf("--end: %v", err)
		}
		edit.End = &t
	}
	if flags.Changed("venue") {
		edit.VenueID = &o.Venue
	}
	if flags.Changed("transport") {
		edit.RequiresTransport = &o.Transport
	}
	if edit == (service.InstanceEdit{}) {
		return edit, model.Validationf("nothing to edit: pass --start, --end, --venue or --transport")
	}
	return edit, nil
}

func newInstancesClearOverrideCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "clear-override <instance-id>",
		Short:         "Hand an edited instance back to the projector",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				inst, err := a.svc.ClearOverride(cmd.Context(), args[0])
				if err != nil {
					return a.out.Fail("clear override", err)
				}
				return a.out.Success(inst, func(w io.Writer) {
					fmt.Fprintln(w, "✓ Override cleared")
					printInstance(w, inst)
				})
			})
		},
	}
}

func newInstancesAllocateCommand(rootOpts *RootOptions) *cobra.Command {
	var what string
	cmd := &cobra.Command{
		Use:   "allocate <instance-id>",
		Short: "Re-run one allocation step on an instance",
		Long: `Re-run one allocation step on demand: participants, staff or vehicles.
Overridden rows are kept.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				ctx := cmd.Context()
				var (
					res  any
					text func(io.Writer)
					err  error
				)
				switch what {
				case "participants":
					var r allocator.ParticipantResult
					r, err = a.svc.AllocateParticipants(ctx, args[0])
					res, text = r, func(w io.Writer) {
						fmt.Fprintf(w, "✓ %d participant(s) enrolled (%s)\n", r.Enrolled, formatChanges(r.Changes))
					}
				case "staff":
					var r allocator.StaffResult
					r, err = a.svc.AssignStaff(ctx, args[0])
					res, text = r, func(w io.Writer) { printStaffResult(w, r) }
				case "vehicles":
					var r allocator.VehicleResult
					r, err = a.svc.AssignVehicles(ctx, args[0])
					res, text = r, func(w io.Writer) { printVehicleResult(w, r) }
				default:
					err = model.Validationf("--what must be participants, staff or vehicles, got %q", what)
				}
				if err != nil {
					return a.out.Fail("allocate", err)
				}
				return a.out.Success(res, text)
			})
		},
	}
	cmd.Flags().StringVar(&what, "what", "staff", "allocation step (participants|staff|vehicles)")
	return cmd
}

func newAttendanceStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "attendance <attendance-id> <status>",
		Short: "Record an attendance status such as attended or no_show",
		Long: `Record an operator-set attendance status: confirmed, attended or no_show.
Cancellations go through "loom events cancel" so notice is recorded.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				att, err := a.svc.SetAttendanceStatus(cmd.Context(), args[0], model.AttendanceStatus(args[1]))
				if err != nil {
					return a.out.Fail("set attendance status", err)
				}
				return a.out.Success(att, func(w io.Writer) {
					fmt.Fprintf(w, "✓ %s is %s\n", att.ParticipantID, att.Status)
				})
			})
		},
	}
}

func printInstances(w io.Writer, insts []model.Instance) {
	if len(insts) == 0 {
		fmt.Fprintln(w, "No instances.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tTIME\tRULE\tVENUE\tPARTICIPANTS\tSTAFF\tVEHICLE\tFLAGS\tID")
	for _, inst := range insts {
		vehicle := "-"
		if inst.Vehicle != nil {
			vehicle = inst.Vehicle.VehicleID
		}
		fmt.Fprintf(tw, "%s\t%s-%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			model.FormatDate(inst.Date), inst.Start, inst.End, inst.SourceRuleID, inst.VenueID,
			countAttending(inst.Attendance), countActive(inst.Staff), vehicle, flags(inst), inst.ID)
	}
	_ = tw.Flush()
}

func printInstance(w io.Writer, inst model.Instance) {
	fmt.Fprintf(w, "Instance %s\n", inst.ID)
	fmt.Fprintf(w, "  Rule:    %s on %s, %s-%s at %s\n",
		inst.SourceRuleID, model.FormatDate(inst.Date), inst.Start, inst.End, inst.VenueID)
	fmt.Fprintf(w, "  Flags:   %s\n", flags(inst))
	for _, att := range inst.Attendance {
		fmt.Fprintf(w, "  Participant %s: %s", att.ParticipantID, att.Status)
		if att.BillingImpact {
			fmt.Fprint(w, " (billable)")
		}
		fmt.Fprintf(w, " [%s]\n", att.ID)
	}
	for _, sh := range inst.Staff {
		fmt.Fprintf(w, "  Staff %s: %s %s", sh.StaffID, sh.Role, sh.Status)
		if sh.SubstituteFor != "" {
			fmt.Fprintf(w, " (covering %s)", sh.SubstituteFor)
		}
		fmt.Fprintf(w, " [%s]\n", sh.ID)
	}
	if v := inst.Vehicle; v != nil {
		fmt.Fprintf(w, "  Vehicle %s driven by %s", v.VehicleID, orDash(v.DriverStaffID))
		if len(v.Stops) > 0 {
			fmt.Fprintf(w, ", stops %s", strings.Join(v.Stops, " → "))
		}
		fmt.Fprintln(w)
	}
}

func printStaffResult(w io.Writer, r allocator.StaffResult) {
	fmt.Fprintf(w, "✓ %d of %d staff assigned for virtual count %s (%s)\n",
		r.ActiveStaff, r.RequiredStaff, r.VirtualCount, formatChanges(r.Changes))
	if r.Understaffed {
		fmt.Fprintln(w, "  ! understaffed")
	}
}

func printVehicleResult(w io.Writer, r allocator.VehicleResult) {
	switch {
	case !r.Required:
		fmt.Fprintln(w, "✓ No transport required")
	case r.Unvehicled:
		fmt.Fprintf(w, "! No vehicle with %d seat(s) available\n", r.RequiredSeats)
	default:
		fmt.Fprintf(w, "✓ Vehicle %s, driver %s, %d seat(s) needed\n",
			r.VehicleID, orDash(r.DriverStaffID), r.RequiredSeats)
		if r.NoDriver {
			fmt.Fprintln(w, "  ! no driver assigned")
		}
	}
}

func formatChanges(c allocator.RowChanges) string {
	return fmt.Sprintf("%d inserted, %d updated, %d deleted, %d preserved",
		c.Inserted, c.Updated, c.Deleted, c.Preserved)
}

func flags(inst model.Instance) string {
	var fs []string
	if inst.IsOverridden {
		fs = append(fs, "edited")
	}
	if inst.QualityAuditFlag {
		fs = append(fs, "audit")
	}
	if sf := inst.Shortfall; sf != nil {
		if sf.Understaffed {
			fs = append(fs, "understaffed")
		}
		if sf.Unvehicled {
			fs = append(fs, "unvehicled")
		}
		if sf.NeedsAttention {
			fs = append(fs, "attention")
		}
	}
	if len(fs) == 0 {
		return "-"
	}
	return strings.Join(fs, ",")
}

func countAttending(rows []model.Attendance) int {
	n := 0
	for _, r := range rows {
		if r.Status.Counts() {
			n++
		}
	}
	return n
}

func countActive(rows []model.StaffAssignment) int {
	n := 0
	for _, r := range rows {
		if r.Active() {
			n++
		}
	}
	return n
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
