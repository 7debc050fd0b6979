package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/planforge/internal/driver"
	"github.com/marcus/planforge/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run <plan-id>",
	Short: "Drive a plan forward",
	Long: `Run a plan until it finalizes, suspends on a human decision, or fails.

Running is resumable: every phase transition and task step is persisted
before the next one starts, so interrupting a run and starting it again
continues from the last completed step. A plan suspended on a decision
is continued with 'planforge resume'.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <plan-id>",
	Short: "Resume a plan suspended on a decision",
	Long: `Answer the pending decision of a suspended plan and continue the run.

Use --accept to approve (accept the outline as-is, mark the manual task
done, or waive the remaining findings of an exhausted loop). Use
--request to send change requests back into the outline quality gate
instead; the flag may be repeated.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	runCmd.Flags().StringP("work-dir", "w", "", "Working directory for executor commands")
	runCmd.Flags().Bool("quiet", false, "Suppress progress output")

	resumeCmd.Flags().Bool("accept", false, "Approve the pending decision")
	resumeCmd.Flags().StringArray("request", nil, "Change request to send back (repeatable)")
	resumeCmd.Flags().StringP("work-dir", "w", "", "Working directory for executor commands")
	resumeCmd.Flags().Bool("quiet", false, "Suppress progress output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	planID := args[0]
	quiet, _ := cmd.Flags().GetBool("quiet")

	snap, err := loadSnapshot(cmd)
	if err != nil {
		return err
	}
	if err := initLogging(cmd, snap); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	st, database, err := openStore(snap)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	workDir, err := resolveWorkDir(cmd, snap)
	if err != nil {
		return err
	}

	opts := []driver.Option{
		driver.WithStore(st),
		driver.WithSnapshot(snap),
		driver.WithWorkDir(workDir),
		driver.WithLogger(logging.Component("run")),
	}
	if !quiet {
		opts = append(opts, driver.WithEventHandler(printEvent))
	}
	drv := driver.New(opts...)

	ctx, cancel := signalContext()
	defer cancel()

	result, err := drv.Run(ctx, planID)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	printResult(result)
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	planID := args[0]
	accept, _ := cmd.Flags().GetBool("accept")
	requests, _ := cmd.Flags().GetStringArray("request")
	quiet, _ := cmd.Flags().GetBool("quiet")

	if !accept && len(requests) == 0 {
		return fmt.Errorf("nothing to resume with: pass --accept or at least one --request")
	}
	if accept && len(requests) > 0 {
		return fmt.Errorf("--accept and --request are mutually exclusive")
	}

	snap, err := loadSnapshot(cmd)
	if err != nil {
		return err
	}
	if err := initLogging(cmd, snap); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	st, database, err := openStore(snap)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	workDir, err := resolveWorkDir(cmd, snap)
	if err != nil {
		return err
	}

	opts := []driver.Option{
		driver.WithStore(st),
		driver.WithSnapshot(snap),
		driver.WithWorkDir(workDir),
		driver.WithLogger(logging.Component("resume")),
	}
	if !quiet {
		opts = append(opts, driver.WithEventHandler(printEvent))
	}
	drv := driver.New(opts...)

	ctx, cancel := signalContext()
	defer cancel()

	result, err := drv.Resume(ctx, planID, driver.Decision{
		Accept:         accept,
		ChangeRequests: requests,
	})
	if err != nil {
		return fmt.Errorf("resume failed: %w", err)
	}

	printResult(result)
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\ninterrupt received, stopping...")
		cancel()
	}()
	return ctx, cancel
}

// printResult summarizes where the run stopped.
func printResult(result *driver.RunResult) {
	fmt.Println()
	switch {
	case result.Completed:
		fmt.Printf("COMPLETED plan %s (%s)\n", result.PlanID, result.Duration.Round(time.Second))
	case result.Decision != nil:
		fmt.Printf("SUSPENDED in %s: %s\n", result.Phase, result.Decision.Message)
		printDecisionHelp(result.Decision)
	default:
		fmt.Printf("STOPPED in %s (%s)\n", result.Phase, result.Duration.Round(time.Second))
	}
}

// printDecisionHelp explains how to answer the pending decision.
func printDecisionHelp(dec *driver.PendingDecision) {
	if len(dec.Findings) > 0 {
		fmt.Println("\nOpen findings:")
		for _, f := range dec.Findings {
			fmt.Printf("  - [%s] %s\n", f.Type, f.Title)
			if f.Detail != "" {
				fmt.Printf("    %s\n", f.Detail)
			}
		}
	}

	fmt.Println()
	switch dec.Kind {
	case driver.DecisionQGateEscalation:
		fmt.Printf("approve the outline:   planforge resume %s --accept\n", dec.PlanID)
		fmt.Printf("request changes:       planforge resume %s --request \"...\"\n", dec.PlanID)
	case driver.DecisionManualTask:
		fmt.Printf("task %d needs manual action; when done:\n", dec.TaskNumber)
		fmt.Printf("  planforge resume %s --accept\n", dec.PlanID)
	case driver.DecisionLoopExhausted:
		fmt.Printf("waive remaining findings:  planforge resume %s --accept\n", dec.PlanID)
	}
}
