package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marcus/planforge/internal/recipe"
	"github.com/marcus/planforge/internal/resolver"
)

var recipeCmd = &cobra.Command{
	Use:   "recipe",
	Short: "Work with registered recipes",
	Long: `Recipes are pre-authored plan templates registered per domain in the
configuration. A plan bound to a recipe gets its outline generated
deterministically and skips the outline quality gate.`,
}

var recipeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered recipes",
	RunE:  runRecipeList,
}

var recipeShowCmd = &cobra.Command{
	Use:   "show <recipe-key>",
	Short: "Show one recipe's full registry entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecipeShow,
}

var recipeRunCmd = &cobra.Command{
	Use:   "run <recipe-key> <title>",
	Short: "Create a plan from a recipe and run it",
	Args:  cobra.ExactArgs(2),
	RunE:  runRecipeRun,
}

func init() {
	recipeRunCmd.Flags().String("id", "", "Plan id (generated when omitted)")
	recipeRunCmd.Flags().StringP("work-dir", "w", "", "Working directory for executor commands")
	recipeRunCmd.Flags().Bool("quiet", false, "Suppress progress output")

	recipeShowCmd.Flags().Bool("json", false, "Output as JSON")

	recipeCmd.AddCommand(recipeListCmd)
	recipeCmd.AddCommand(recipeShowCmd)
	recipeCmd.AddCommand(recipeRunCmd)
	rootCmd.AddCommand(recipeCmd)
}

func runRecipeList(cmd *cobra.Command, args []string) error {
	snap, err := loadSnapshot(cmd)
	if err != nil {
		return err
	}

	recipes := resolver.Recipes(snap)
	if len(recipes) == 0 {
		fmt.Println("No recipes registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tNAME\tDOMAIN\tSCOPE\tCHANGE TYPE")
	for _, r := range recipes {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.Key, r.Name, r.Domain, r.Scope, r.DefaultChangeType)
	}
	_ = w.Flush()
	fmt.Printf("\n%d recipe(s)\n", len(recipes))
	return nil
}

func runRecipeShow(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	snap, err := loadSnapshot(cmd)
	if err != nil {
		return err
	}

	r, ok := resolver.RecipeByKey(snap, args[0])
	if !ok {
		return fmt.Errorf("unknown recipe: %s\nRun 'planforge recipe list' to see registered recipes", args[0])
	}

	// The derived source tells the operator which tree the recipe will
	// enumerate; an underivable one is shown, not fatal.
	source, sourceErr := recipe.PackageSource(r)

	if asJSON {
		entry := recipeShowEntry{
			Key:           r.Key,
			Name:          r.Name,
			Skill:         r.Skill,
			ChangeType:    r.DefaultChangeType,
			Scope:         r.Scope,
			Domain:        r.Domain,
			Profile:       r.Profile,
			PackageSource: source,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entry)
	}

	fmt.Printf("Key:         %s\n", r.Key)
	fmt.Printf("Name:        %s\n", r.Name)
	fmt.Printf("Skill:       %s\n", r.Skill)
	fmt.Printf("Change type: %s\n", r.DefaultChangeType)
	if r.Scope != "" {
		fmt.Printf("Scope:       %s\n", r.Scope)
	}
	if r.Domain != "" {
		fmt.Printf("Domain:      %s\n", r.Domain)
	}
	if r.Profile != "" {
		fmt.Printf("Profile:     %s\n", r.Profile)
	}
	if sourceErr != nil {
		fmt.Printf("Source:      (underivable: %v)\n", sourceErr)
	} else {
		fmt.Printf("Source:      %s\n", source)
	}
	return nil
}

type recipeShowEntry struct {
	Key           string `json:"key"`
	Name          string `json:"name"`
	Skill         string `json:"skill"`
	ChangeType    string `json:"default_change_type"`
	Scope         string `json:"scope,omitempty"`
	Domain        string `json:"domain,omitempty"`
	Profile       string `json:"profile,omitempty"`
	PackageSource string `json:"package_source,omitempty"`
}

func runRecipeRun(cmd *cobra.Command, args []string) error {
	key, title := args[0], args[1]
	id, _ := cmd.Flags().GetString("id")

	snap, err := loadSnapshot(cmd)
	if err != nil {
		return err
	}

	if _, ok := resolver.RecipeByKey(snap, key); !ok {
		return fmt.Errorf("unknown recipe: %s\nRun 'planforge recipe list' to see registered recipes", key)
	}

	st, database, err := openStore(snap)
	if err != nil {
		return err
	}
	rec, err := st.Create(id, title, key)
	_ = database.Close()
	if err != nil {
		return err
	}

	fmt.Printf("created plan %s from recipe %s\n", rec.ID, key)
	return runRun(cmd, []string{rec.ID})
}
