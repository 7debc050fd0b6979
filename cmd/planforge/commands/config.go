package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/planforge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	explicit, _ := cmd.Flags().GetString("config")
	path, err := config.FindConfig(explicit)
	if err != nil {
		return err
	}
	snap, err := config.Load(path)
	if err != nil {
		return err
	}

	fmt.Printf("Config: %s\n\n", path)

	fmt.Println("Workflow:")
	for _, name := range []string{"init", "refine", "outline", "plan", "execute", "verify", "finalize"} {
		fmt.Printf("  %-9s %s\n", name, snap.System.Workflow[name])
	}

	if len(snap.System.Executors) > 0 {
		fmt.Println("\nExecutors:")
		for _, profile := range sortedKeys(snap.System.Executors) {
			fmt.Printf("  %-20s %s\n", profile, snap.System.Executors[profile])
		}
	}

	if len(snap.System.Gates) > 0 {
		fmt.Println("\nGates:")
		for _, gate := range sortedGateKeys(snap.System.Gates) {
			state := "off"
			if snap.System.Gates[gate] {
				state = "on"
			}
			fmt.Printf("  %-20s %s\n", gate, state)
		}
	}

	fmt.Println("\nDomains:")
	for _, name := range snap.DomainNames() {
		scope := snap.Domains[name]
		scopes := make([]string, 0, len(scope.Capabilities))
		for s := range scope.Capabilities {
			scopes = append(scopes, s)
		}
		sort.Strings(scopes)
		fmt.Printf("  %s: %s\n", name, strings.Join(scopes, ", "))
		for _, r := range scope.Recipes {
			fmt.Printf("    recipe %s (%s)\n", r.Key, r.Name)
		}
	}

	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	explicit, _ := cmd.Flags().GetString("config")
	path, err := config.FindConfig(explicit)
	if err != nil {
		return err
	}
	if _, err := config.Load(path); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fmt.Printf("%s: OK\n", path)
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedGateKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
