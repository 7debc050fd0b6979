package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/planforge/internal/reporting"
)

var reportCmd = &cobra.Command{
	Use:   "report <plan-id>",
	Short: "Generate a plan report",
	Long: `Render a markdown report of a plan: phase progress, correction loop
usage, tasks, and findings.

The report prints to stdout by default; use --out to write it to a file,
or --save to write it to the default report directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringP("out", "o", "", "Write the report to this file")
	reportCmd.Flags().Bool("save", false, "Write the report to the default report directory")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	outPath, _ := cmd.Flags().GetString("out")
	save, _ := cmd.Flags().GetBool("save")

	snap, err := loadSnapshot(cmd)
	if err != nil {
		return err
	}
	st, database, err := openStore(snap)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	report, err := reporting.Build(st, args[0])
	if err != nil {
		return err
	}

	if save && outPath == "" {
		outPath = reporting.DefaultReportPath(args[0])
	}
	if outPath != "" {
		if err := report.Save(outPath); err != nil {
			return err
		}
		fmt.Printf("report written to %s\n", outPath)
		return nil
	}

	fmt.Print(report.Render())
	return nil
}
