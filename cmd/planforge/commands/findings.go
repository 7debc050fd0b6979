package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marcus/planforge/internal/phase"
)

var findingsCmd = &cobra.Command{
	Use:   "findings <plan-id>",
	Short: "List a plan's findings",
	Long: `List the findings recorded against a plan: quality gate failures,
verification failures, and user change requests.

Only open findings are shown by default; use --all to include resolved
ones. Use --phase to filter by the phase that recorded them.`,
	Args: cobra.ExactArgs(1),
	RunE: runFindings,
}

func init() {
	findingsCmd.Flags().BoolP("all", "a", false, "Include resolved findings")
	findingsCmd.Flags().String("phase", "", "Filter by phase (outline, execute, verify, finalize)")
	rootCmd.AddCommand(findingsCmd)
}

func runFindings(cmd *cobra.Command, args []string) error {
	includeResolved, _ := cmd.Flags().GetBool("all")
	phaseFilter, _ := cmd.Flags().GetString("phase")

	snap, err := loadSnapshot(cmd)
	if err != nil {
		return err
	}
	st, database, err := openStore(snap)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	var phPtr *phase.Phase
	if phaseFilter != "" {
		ph, err := phase.Parse(phaseFilter)
		if err != nil {
			return err
		}
		phPtr = &ph
	}

	records, err := st.Findings(args[0], phPtr, !includeResolved)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No findings.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STATE\tPHASE\tSOURCE\tTYPE\tTITLE")
	for _, r := range records {
		state := "open"
		if r.Resolved {
			state = "resolved"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			state, r.Finding.Phase, r.Finding.Source, r.Finding.Type, r.Finding.Title)
	}
	_ = w.Flush()
	fmt.Printf("\n%d finding(s)\n", len(records))
	return nil
}
