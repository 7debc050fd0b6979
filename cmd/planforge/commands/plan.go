package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marcus/planforge/internal/phase"
	"github.com/marcus/planforge/internal/resolver"
	"github.com/marcus/planforge/internal/store"
	"github.com/marcus/planforge/internal/tasks"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage plans",
	Long:  `Create plans, inspect their phase progress, and archive finished ones.`,
}

var planCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a new plan",
	Long: `Create a plan in its initial state: init in progress, every other
phase pending.

Use --recipe to bind the plan to a registered recipe; its outline phase
will then be generated deterministically instead of going through the
quality gate. Use --id to pick the plan id instead of generating one.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlanCreate,
}

var planShowCmd = &cobra.Command{
	Use:   "show <plan-id>",
	Short: "Show plan progress and tasks",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanShow,
}

var planListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plans",
	RunE:  runPlanList,
}

var planTransitionCmd = &cobra.Command{
	Use:   "transition <plan-id>",
	Short: "Complete the current phase and advance to the next",
	Long: `Mark the plan's current phase done and advance to the next one,
subject to the same preconditions the driver enforces: refine needs at
least one identified domain, outline needs no pending findings, plan
needs expanded tasks, execute needs every task done.

Normally 'planforge run' advances phases as work completes; transition
is the operator override for state the driver cannot move on its own.
Re-running it against the same state reports the same result.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlanTransition,
}

var planArchiveCmd = &cobra.Command{
	Use:   "archive <plan-id>",
	Short: "Archive a finalized plan",
	Long:  `Archive a plan. Only plans whose every phase is done can be archived.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanArchive,
}

func init() {
	planCreateCmd.Flags().String("id", "", "Plan id (generated when omitted)")
	planCreateCmd.Flags().String("recipe", "", "Recipe key to bind the plan to")

	planShowCmd.Flags().Bool("json", false, "Output as JSON")

	planListCmd.Flags().BoolP("all", "a", false, "Include archived plans")
	planListCmd.Flags().Bool("json", false, "Output as JSON")

	planCmd.AddCommand(planCreateCmd)
	planCmd.AddCommand(planShowCmd)
	planCmd.AddCommand(planListCmd)
	planCmd.AddCommand(planTransitionCmd)
	planCmd.AddCommand(planArchiveCmd)
	rootCmd.AddCommand(planCmd)
}

func runPlanCreate(cmd *cobra.Command, args []string) error {
	title := args[0]
	id, _ := cmd.Flags().GetString("id")
	recipeKey, _ := cmd.Flags().GetString("recipe")

	snap, err := loadSnapshot(cmd)
	if err != nil {
		return err
	}

	if recipeKey != "" {
		if _, ok := resolver.RecipeByKey(snap, recipeKey); !ok {
			return fmt.Errorf("unknown recipe: %s\nRun 'planforge recipe list' to see registered recipes", recipeKey)
		}
	}

	st, database, err := openStore(snap)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	rec, err := st.Create(id, title, recipeKey)
	if err != nil {
		return err
	}

	fmt.Printf("created plan %s\n", rec.ID)
	if rec.RecipeKey != "" {
		fmt.Printf("recipe:  %s\n", rec.RecipeKey)
	}
	fmt.Printf("run 'planforge run %s' to start\n", rec.ID)
	return nil
}

func runPlanShow(cmd *cobra.Command, args []string) error {
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

	rec, err := st.Read(args[0])
	if err != nil {
		return err
	}
	taskList, err := st.Tasks(rec.ID)
	if err != nil {
		return err
	}

	if asJSON {
		return printPlanJSON(rec, len(taskList))
	}

	fmt.Printf("Plan:    %s\n", rec.ID)
	fmt.Printf("Title:   %s\n", rec.Title)
	if rec.RecipeKey != "" {
		fmt.Printf("Recipe:  %s\n", rec.RecipeKey)
	}
	if len(rec.Domains) > 0 {
		fmt.Printf("Domains: %s\n", strings.Join(rec.Domains, ", "))
	}
	if rec.Archived {
		fmt.Println("Status:  archived")
	}
	fmt.Println()

	fmt.Println("Phases:")
	for i := 0; i < phase.Count; i++ {
		ph := phase.Phase(i)
		fmt.Printf("  [%s] %s\n", statusGlyph(rec.Progress.Of(ph)), ph)
	}

	if len(taskList) > 0 {
		fmt.Println()
		fmt.Println("Tasks:")
		for _, t := range taskList {
			line := fmt.Sprintf("  %2d. [%s] %s/%s (%s)", t.Number, taskGlyph(t.Status), t.Domain, t.Module, t.Profile)
			if t.Manual {
				line += " (manual)"
			}
			if t.DependsOn > 0 {
				line += fmt.Sprintf(" (after %d)", t.DependsOn)
			}
			fmt.Println(line)
		}
	}

	return nil
}

func runPlanList(cmd *cobra.Command, args []string) error {
	includeArchived, _ := cmd.Flags().GetBool("all")
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

	summaries, err := st.List(includeArchived)
	if err != nil {
		return err
	}

	if len(summaries) == 0 {
		fmt.Println("No plans.")
		return nil
	}

	if asJSON {
		return printPlanListJSON(summaries)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTITLE\tPHASE\tUPDATED")
	for _, s := range summaries {
		phaseLabel := s.CurrentPhase.String()
		if s.Archived {
			phaseLabel += " (archived)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			s.ID, s.Title, phaseLabel, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
	fmt.Printf("\n%d plan(s)\n", len(summaries))
	return nil
}

func runPlanTransition(cmd *cobra.Command, args []string) error {
	snap, err := loadSnapshot(cmd)
	if err != nil {
		return err
	}
	st, database, err := openStore(snap)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	rec, err := st.Read(args[0])
	if err != nil {
		return err
	}
	current := rec.Progress.Current

	pending, err := st.PendingFindingCount(rec.ID, current)
	if err != nil {
		return err
	}
	taskList, err := st.Tasks(rec.ID)
	if err != nil {
		return err
	}

	progress := rec.Progress
	rej := phase.Transition(&progress, current, phase.Preconditions{
		DomainCount:         len(rec.Domains),
		OutstandingFindings: pending,
		TaskCount:           len(taskList),
		TasksRemaining:      tasks.Remaining(taskList),
	})
	if rej != nil {
		return fmt.Errorf("plan %s: %s", rec.ID, rej)
	}
	if err := st.ApplyProgress(rec.ID, progress); err != nil {
		return err
	}

	if progress.Terminal() {
		fmt.Printf("plan %s: %s done, plan finalized\n", rec.ID, current)
	} else {
		fmt.Printf("plan %s: %s done, now in %s\n", rec.ID, current, progress.Current)
	}
	return nil
}

func runPlanArchive(cmd *cobra.Command, args []string) error {
	snap, err := loadSnapshot(cmd)
	if err != nil {
		return err
	}
	st, database, err := openStore(snap)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	if err := st.Archive(args[0]); err != nil {
		return err
	}
	fmt.Printf("archived plan %s\n", args[0])
	return nil
}

// statusGlyph renders a phase status as a single checkbox character.
func statusGlyph(s phase.Status) string {
	switch s {
	case phase.StatusDone:
		return "x"
	case phase.StatusInProgress:
		return ">"
	default:
		return " "
	}
}

// taskGlyph renders a task status as a single checkbox character.
func taskGlyph(s tasks.Status) string {
	switch s {
	case tasks.StatusDone:
		return "x"
	case tasks.StatusInProgress:
		return ">"
	default:
		return " "
	}
}

// --- JSON output ---

type planShowEntry struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Phase    string            `json:"phase"`
	Phases   map[string]string `json:"phases"`
	Domains  []string          `json:"domains,omitempty"`
	Recipe   string            `json:"recipe,omitempty"`
	Tasks    int               `json:"tasks"`
	Archived bool              `json:"archived"`
}

func printPlanJSON(rec *store.PlanRecord, taskCount int) error {
	phases := make(map[string]string, phase.Count)
	for i := 0; i < phase.Count; i++ {
		ph := phase.Phase(i)
		phases[ph.String()] = string(rec.Progress.Of(ph))
	}
	entry := planShowEntry{
		ID:       rec.ID,
		Title:    rec.Title,
		Phase:    rec.Progress.Current.String(),
		Phases:   phases,
		Domains:  rec.Domains,
		Recipe:   rec.RecipeKey,
		Tasks:    taskCount,
		Archived: rec.Archived,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(entry)
}

type planListEntry struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Phase    string `json:"phase"`
	Archived bool   `json:"archived"`
	Updated  string `json:"updated"`
}

func printPlanListJSON(summaries []store.Summary) error {
	entries := make([]planListEntry, len(summaries))
	for i, s := range summaries {
		entries[i] = planListEntry{
			ID:       s.ID,
			Title:    s.Title,
			Phase:    s.CurrentPhase.String(),
			Archived: s.Archived,
			Updated:  s.UpdatedAt.Format("2006-01-02 15:04"),
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}
