package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/carsonhq/memoryd/internal/config"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store counts by type, lifecycle state, and scope",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	s, err := db.Stats()
	if err != nil {
		return err
	}

	fmt.Printf("episodes: %d (%d awaiting consolidation)\n", s.Episodes, s.UnconsolidatedEpisodes)
	fmt.Println("facts:")
	printCounts(s.FactsByValidity)
	fmt.Println("rules:")
	printCounts(s.RulesByMaturity)
	fmt.Printf("links: %d\n", s.Links)
	fmt.Println("scopes:")
	printCounts(s.ByScope)
	return nil
}

func printCounts(m map[string]int) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s: %d\n", k, m[k])
	}
	if len(keys) == 0 {
		fmt.Println("  (none)")
	}
}
