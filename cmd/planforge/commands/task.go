package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marcus/planforge/internal/tasks"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect plan tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list <plan-id>",
	Short: "List a plan's expanded tasks",
	Long: `List the tasks expanded from a plan's deliverables, in execution
order. Use --pending to hide finished tasks.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskList,
}

func init() {
	taskListCmd.Flags().Bool("pending", false, "Only tasks not yet done")
	taskListCmd.Flags().Bool("json", false, "Output as JSON")

	taskCmd.AddCommand(taskListCmd)
	rootCmd.AddCommand(taskCmd)
}

func runTaskList(cmd *cobra.Command, args []string) error {
	onlyPending, _ := cmd.Flags().GetBool("pending")
	asJSON, _ := cmd.Flags().GetBool("json")

	snap, err := loadSnapshot(cmd)
	if err != nil {
		return err
	}
	st, database, err := openStore(snap)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	if _, err := st.Read(args[0]); err != nil {
		return err
	}
	list, err := st.Tasks(args[0])
	if err != nil {
		return err
	}
	if onlyPending {
		filtered := list[:0]
		for _, t := range list {
			if t.Status != tasks.StatusDone {
				filtered = append(filtered, t)
			}
		}
		list = filtered
	}

	if len(list) == 0 {
		fmt.Println("No tasks.")
		return nil
	}

	if asJSON {
		return printTaskListJSON(list)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tSTATUS\tDOMAIN\tMODULE\tPROFILE\tSTEPS\tNOTES")
	for _, t := range list {
		done := 0
		for _, s := range t.Steps {
			if s.Done {
				done++
			}
		}
		notes := ""
		if t.Manual {
			notes = "manual"
		}
		if t.DependsOn > 0 {
			if notes != "" {
				notes += ", "
			}
			notes += fmt.Sprintf("after %d", t.DependsOn)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			t.Number, t.Status, t.Domain, t.Module, t.Profile, done, len(t.Steps), notes)
	}
	_ = w.Flush()
	fmt.Printf("\n%d task(s), %d remaining\n", len(list), tasks.Remaining(list))
	return nil
}

type taskListEntry struct {
	Number    int      `json:"number"`
	Status    string   `json:"status"`
	Domain    string   `json:"domain"`
	Module    string   `json:"module"`
	Profile   string   `json:"profile"`
	Skills    []string `json:"skills,omitempty"`
	Manual    bool     `json:"manual,omitempty"`
	DependsOn int      `json:"depends_on,omitempty"`
	StepsDone int      `json:"steps_done"`
	Steps     int      `json:"steps"`
}

func printTaskListJSON(list []tasks.Task) error {
	entries := make([]taskListEntry, len(list))
	for i, t := range list {
		done := 0
		for _, s := range t.Steps {
			if s.Done {
				done++
			}
		}
		entries[i] = taskListEntry{
			Number:    t.Number,
			Status:    string(t.Status),
			Domain:    t.Domain,
			Module:    t.Module,
			Profile:   t.Profile,
			Skills:    t.Skills,
			Manual:    t.Manual,
			DependsOn: t.DependsOn,
			StepsDone: done,
			Steps:     len(t.Steps),
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}
