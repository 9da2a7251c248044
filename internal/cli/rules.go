package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/loom/internal/rulefile"
)

// NewRulesCommand creates the rules command group.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage the rule store",
	}
	cmd.AddCommand(newRulesImportCommand(rootOpts))
	return cmd
}

func newRulesImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <path>",
		Short: "Validate and import a rule file",
		Long: `Validate and import rules, ratio tables, exceptions and entity fixtures.

The path may be a .cue, .yaml, .yml or .json file, or a directory holding a
CUE package. Records are upserted; a rule's updated_at only moves when its
definition changes. Run "loom window reproject" afterwards to apply changes
to the window.

Example:
  loom rules import ./rules/centre.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			out.VerboseLog("Loading %s", args[0])
			f, err := rulefile.Load(args[0])
			if err != nil {
				return out.Fail("load rule file", err)
			}
			return withApp(rootOpts, cmd, func(a *app) error {
				sum, err := a.svc.ImportRules(cmd.Context(), f)
				if err != nil {
					return a.out.Fail("import rules", err)
				}
				return a.out.Success(sum, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Imported %d rule(s) (%d changed), %d ratio table(s), %d exception(s)\n",
						sum.Rules, sum.RulesChanged, sum.RatioTables, sum.Exceptions)
					fmt.Fprintf(w, "  %d participant(s), %d staff, %d vehicle(s), %d blackout(s), %d rate(s)\n",
						sum.Participants, sum.Staff, sum.Vehicles, sum.Blackouts, sum.Rates)
				})
			})
		},
	}
}
