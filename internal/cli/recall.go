package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/carsonhq/memoryd/internal/engine"
)

var (
	recallScope   string
	recallLimit   int
	recallMinConf float64
)

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Recall memories ranked by relevance, importance, recency, and confidence",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRecall,
}

func init() {
	recallCmd.Flags().StringVar(&recallScope, "scope", "", "scope to recall from")
	recallCmd.Flags().IntVar(&recallLimit, "limit", 10, "max results")
	recallCmd.Flags().Float64Var(&recallMinConf, "min-confidence", 0, "drop facts and rules below this effective confidence")
}

func runRecall(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	eng, cleanup, err := localEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	items, err := eng.Recall(cmd.Context(), query, engine.RecallOpts{
		Scope:         recallScope,
		Limit:         recallLimit,
		MinConfidence: recallMinConf,
	})
	if err != nil {
		return err
	}

	if len(items) == 0 {
		fmt.Println("no results")
		return nil
	}
	for _, it := range items {
		fmt.Printf("%.3f  [%s] %s\n", it.Score, it.Kind, it.Content)
	}
	return nil
}
