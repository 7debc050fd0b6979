package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/planforge/internal/driver"
	"github.com/marcus/planforge/internal/logging"
	"github.com/marcus/planforge/internal/ui"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor <plan-id>",
	Short: "Run a plan with a live terminal UI",
	Long: `Drive a plan forward while showing phase progress, tasks, and logs in
an interactive terminal UI. The run behaves exactly like 'planforge run';
quitting the UI cancels the run, which resumes from its last persisted
step next time.`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringP("work-dir", "w", "", "Working directory for executor commands")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	planID := args[0]

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

	model := ui.New()
	program, err := model.RunWithProgram()
	if err != nil {
		return fmt.Errorf("start ui: %w", err)
	}

	drv := driver.New(
		driver.WithStore(st),
		driver.WithSnapshot(snap),
		driver.WithWorkDir(workDir),
		driver.WithLogger(logging.Component("monitor")),
		driver.WithEventHandler(func(ev driver.Event) {
			program.Send(ui.EventMsg{Event: ev})
		}),
	)

	ctx, cancel := signalContext()
	defer cancel()

	result, runErr := drv.Run(ctx, planID)

	program.Quit()
	program.Wait()

	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	printResult(result)
	return nil
}
