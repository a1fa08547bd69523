package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/carsonhq/memoryd/internal/config"
	"github.com/carsonhq/memoryd/internal/engine"
)

var (
	searchScope   string
	searchMode    string
	searchLimit   int
	searchMinConf float64
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search stored memories",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchScope, "scope", "", "scope to search in (global always included)")
	searchCmd.Flags().StringVar(&searchMode, "mode", "hybrid", "semantic, keyword, or hybrid")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "max results")
	searchCmd.Flags().Float64Var(&searchMinConf, "min-confidence", 0, "effective-confidence floor for facts and rules")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	eng, cleanup, err := localEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	items, err := eng.Search(cmd.Context(), query, engine.SearchOpts{
		Scope:         searchScope,
		Mode:          engine.Mode(searchMode),
		Limit:         searchLimit,
		MinConfidence: searchMinConf,
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

// localEngine opens the configured database for a one-shot command. No LLM;
// the TF-IDF fallback serves semantic queries offline.
func localEngine() (*engine.Engine, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, nil, err
	}

	eng := engine.New(db, nil)
	if emb, err := engine.NewTFIDFEmbedder(db, 512); err == nil {
		eng.SetEmbedder(emb)
	}
	return eng, func() { db.Close() }, nil
}
