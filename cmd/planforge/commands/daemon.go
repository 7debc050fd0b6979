package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marcus/planforge/internal/config"
	"github.com/marcus/planforge/internal/driver"
	"github.com/marcus/planforge/internal/logging"
	"github.com/marcus/planforge/internal/scheduler"
	"github.com/marcus/planforge/internal/store"
)

const pidFileName = "planforge.pid"

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage background daemon",
	Long:  `Start, stop, or check status of the planforge background daemon.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start background daemon",
	Long: `Start the planforge daemon as a background process.

On each scheduled trigger the daemon drives every active plan forward
until it finalizes or suspends on a human decision. The schedule (cron
or interval, optionally bounded by a time window) comes from the config
file, which is watched and hot-reloaded on change.`,
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop background daemon",
	Long:  `Stop the running planforge daemon by sending SIGTERM.`,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	RunE:  runDaemonStatus,
}

var daemonForegroundFlag bool

func init() {
	daemonStartCmd.Flags().BoolVarP(&daemonForegroundFlag, "foreground", "f", false, "Run in foreground (don't daemonize)")
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

// pidFilePath returns the path to the PID file.
func pidFilePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "planforge", pidFileName)
}

// writePidFile writes the current process PID to the PID file.
func writePidFile() error {
	if err := os.MkdirAll(filepath.Dir(pidFilePath()), 0755); err != nil {
		return fmt.Errorf("creating pid dir: %w", err)
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(os.Getpid())), 0644)
}

// readPidFile reads the PID from the PID file.
func readPidFile() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

// isProcessRunning checks if a process with the given PID is running.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; send signal 0 to check if alive
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

// isDaemonRunning checks if the daemon is currently running.
func isDaemonRunning() (bool, int) {
	pid, err := readPidFile()
	if err != nil {
		return false, 0
	}
	return isProcessRunning(pid), pid
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	if running, pid := isDaemonRunning(); running {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}

	explicit, _ := cmd.Flags().GetString("config")
	configPath, err := config.FindConfig(explicit)
	if err != nil {
		return err
	}
	snap, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if snap.Settings.Schedule.Cron == "" && snap.Settings.Schedule.Interval == "" {
		return fmt.Errorf("no schedule configured (set settings.schedule.cron or interval in config)")
	}

	if daemonForegroundFlag {
		return runDaemonLoop(cmd, configPath, snap)
	}

	// Daemonize: start a new process with --foreground flag
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("getting executable: %w", err)
	}

	procArgs := []string{"daemon", "start", "--foreground"}
	if explicit != "" {
		procArgs = append(procArgs, "--config", explicit)
	}
	daemonProc := exec.Command(executable, procArgs...)
	daemonProc.Stdout = nil
	daemonProc.Stderr = nil
	daemonProc.Stdin = nil
	// Detach from parent process group
	daemonProc.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := daemonProc.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	fmt.Printf("daemon started (pid %d)\n", daemonProc.Process.Pid)
	return nil
}

func runDaemonLoop(cmd *cobra.Command, configPath string, snap *config.Snapshot) error {
	if err := initLogging(cmd, snap); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log := logging.Component("daemon")

	if err := writePidFile(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = os.Remove(pidFilePath()) }()

	log.Info("daemon starting")

	st, database, err := openStore(snap)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received signal %v, shutting down", sig)
		cancel()
	}()

	// Watch the config file; scheduled runs always use the latest
	// snapshot. Schedule changes take effect on daemon restart.
	watcher, err := config.NewWatcher(configPath,
		func(next *config.Snapshot) {
			log.Info("config reloaded")
		},
		func(err error) {
			log.Errorf("config reload: %v", err)
		})
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	sched, err := scheduler.NewFromConfig(snap.Settings.Schedule)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	sched.SetJob(func(jobCtx context.Context) {
		runScheduledPlans(jobCtx, watcher.Current(), st, log)
	})

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	log.Info("daemon running")

	<-ctx.Done()

	sched.Stop()
	log.Info("daemon stopped")
	return nil
}

// runScheduledPlans drives every active plan forward. Plans that
// suspend on a human decision are left suspended for the next
// interactive resume; everything else advances as far as it can.
func runScheduledPlans(ctx context.Context, snap *config.Snapshot, st *store.Store, log *logging.Logger) {
	summaries, err := st.List(false)
	if err != nil {
		log.Errorf("list plans: %v", err)
		return
	}
	if len(summaries) == 0 {
		log.Debug("no active plans")
		return
	}

	workDir := snap.Settings.WorkDir
	if workDir == "" {
		workDir, _ = os.Getwd()
	}

	drv := driver.New(
		driver.WithStore(st),
		driver.WithSnapshot(snap),
		driver.WithWorkDir(workDir),
		driver.WithLogger(log.WithComponent("scheduled-run")),
	)

	for _, s := range summaries {
		select {
		case <-ctx.Done():
			log.Info("scheduled run cancelled")
			return
		default:
		}

		result, err := drv.Run(ctx, s.ID)
		if err != nil {
			log.ErrorCtx("plan run failed", map[string]any{
				"plan":  s.ID,
				"error": err.Error(),
			})
			continue
		}
		switch {
		case result.Completed:
			log.InfoCtx("plan finalized", map[string]any{"plan": s.ID})
		case result.Decision != nil:
			log.InfoCtx("plan awaiting decision", map[string]any{
				"plan":  s.ID,
				"phase": result.Phase.String(),
			})
		}
	}
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	running, pid := isDaemonRunning()
	if !running {
		fmt.Println("daemon not running")
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("stopping daemon: %w", err)
	}

	fmt.Printf("daemon stopped (pid %d)\n", pid)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	running, pid := isDaemonRunning()
	if !running {
		fmt.Println("daemon: not running")
		return nil
	}
	fmt.Printf("daemon: running (pid %d)\n", pid)
	return nil
}
