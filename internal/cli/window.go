package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/loom/internal/lifecycle"
	"github.com/roach88/loom/internal/model"
	"github.com/roach88/loom/internal/weaver"
)

// WindowOptions holds flags for the window commands.
type WindowOptions struct {
	*RootOptions
	Weeks int
	Full  bool
}

// NewWindowCommand creates the window command group.
func NewWindowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "window",
		Short: "Generate, resize, roll and inspect the rolling window",
	}
	cmd.AddCommand(newWindowGenerateCommand(rootOpts))
	cmd.AddCommand(newWindowResizeCommand(rootOpts))
	cmd.AddCommand(newWindowRollCommand(rootOpts))
	cmd.AddCommand(newWindowShowCommand(rootOpts))
	cmd.AddCommand(newWindowReprojectCommand(rootOpts))
	return cmd
}

func newWindowGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WindowOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Materialise the window for the first time",
		Long: `Materialise the window starting today. Every active rule is projected
over the window and each instance is allocated.

Example:
  loom window generate --weeks 4`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts.RootOptions, cmd, func(a *app) error {
				weeks := opts.Weeks
				if !cmd.Flags().Changed("weeks") {
					weeks = a.cfg.Window.Weeks
				}
				res, err := a.svc.GenerateWindow(cmd.Context(), weeks)
				if err != nil {
					return a.out.Fail("generate window", err)
				}
				return a.out.Success(res, func(w io.Writer) {
					fmt.Fprintln(w, "✓ Window generated")
					printWindowResult(w, res)
				})
			})
		},
	}
	cmd.Flags().IntVarP(&opts.Weeks, "weeks", "w", 0, "window length in weeks (default window.weeks)")
	return cmd
}

func newWindowResizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WindowOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:           "resize",
		Short:         "Change the window length and project the difference",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts.RootOptions, cmd, func(a *app) error {
				res, err := a.svc.ResizeWindow(cmd.Context(), opts.Weeks)
				if err != nil {
					return a.out.Fail("resize window", err)
				}
				return a.out.Success(res, func(w io.Writer) {
					fmt.Fprintln(w, "✓ Window resized")
					printWindowResult(w, res)
				})
			})
		},
	}
	cmd.Flags().IntVarP(&opts.Weeks, "weeks", "w", 0, "new window length in weeks (required)")
	_ = cmd.MarkFlagRequired("weeks")
	return cmd
}

func newWindowRollCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "roll",
		Short: "Archive the past and advance the window now",
		Long: `Archive every instance dated before today into history, create payment
diamonds for billable attendance, and extend the window so it again spans
its configured length from today.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				res, err := a.svc.RollNow(cmd.Context())
				if err != nil {
					return a.out.Fail("roll window", err)
				}
				return a.out.Success(res, func(w io.Writer) {
					fmt.Fprintln(w, "✓ Window rolled")
					printWindowResult(w, res.WindowResult)
					fmt.Fprintf(w, "Archived %d instance(s), %d payment diamond(s)",
						res.Archive.Archived, res.Archive.Payments)
					if res.Archive.Unpriced > 0 {
						fmt.Fprintf(w, ", %d unpriced", res.Archive.Unpriced)
					}
					fmt.Fprintln(w)
				})
			})
		},
	}
}

func newWindowShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Print the persisted window",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				win, err := a.svc.GetWindow(cmd.Context())
				if err != nil {
					return a.out.Fail("show window", err)
				}
				return a.out.Success(win, func(w io.Writer) { printWindow(w, win) })
			})
		},
	}
}

func newWindowReprojectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WindowOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:           "reproject",
		Short:         "Run a projection pass over the current window",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts.RootOptions, cmd, func(a *app) error {
				stats, err := a.svc.Reproject(cmd.Context(), opts.Full)
				if err != nil {
					return a.out.Fail("reproject", err)
				}
				return a.out.Success(stats, func(w io.Writer) { printStats(w, stats) })
			})
		},
	}
	cmd.Flags().BoolVar(&opts.Full, "full", false, "clear unedited instances and rebuild them")
	return cmd
}

func printWindow(w io.Writer, win model.Window) {
	fmt.Fprintf(w, "Window: %s to %s (%d week(s)), last rolled %s\n",
		model.FormatDate(win.Start), model.FormatDate(win.End), win.Weeks,
		win.RolledAt.Format(time.RFC3339))
}

func printWindowResult(w io.Writer, res lifecycle.WindowResult) {
	printWindow(w, res.Window)
	if res.Projection.Rules > 0 || res.Projection.Instances() > 0 {
		printStats(w, res.Projection)
	}
	if res.Removed > 0 {
		fmt.Fprintf(w, "Removed %d instance(s) past the new end\n", res.Removed)
	}
}

func printStats(w io.Writer, s weaver.Stats) {
	fmt.Fprintf(w, "Projected %d rule(s): %d created, %d replaced, %d refreshed, %d preserved\n",
		s.Rules, s.Created, s.Replaced, s.Refreshed, s.Preserved)
	if s.Cleared+s.Removed > 0 {
		fmt.Fprintf(w, "Cleared %d, removed %d by exceptions\n", s.Cleared, s.Removed)
	}
	if s.Understaffed+s.Unvehicled > 0 {
		fmt.Fprintf(w, "Shortfalls: %d understaffed, %d unvehicled\n", s.Understaffed, s.Unvehicled)
	}
}
