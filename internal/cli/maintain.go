package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/carsonhq/memoryd/internal/config"
	"github.com/carsonhq/memoryd/internal/engine"
	"github.com/carsonhq/memoryd/internal/llm"
)

var (
	maintainSkipConsolidation bool
)

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run the maintenance jobs: decay sweep, episode cleanup, consolidation",
	Long: "Memoryd owns no timers. Run this from cron or a systemd timer to age\n" +
		"out stale knowledge and distill pending episodes.",
	RunE: runMaintain,
}

func init() {
	maintainCmd.Flags().BoolVar(&maintainSkipConsolidation, "skip-consolidation", false, "run only decay and cleanup")
}

func runMaintain(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.LLM.Provider = "anthropic"
		cfg.LLM.AnthropicKey = key
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var client llm.Client
	if !maintainSkipConsolidation {
		client, err = llm.NewClient(cfg.LLM)
		if err != nil {
			return fmt.Errorf("consolidation needs an LLM provider (or --skip-consolidation): %w", err)
		}
	}

	eng := engine.New(db, client)
	if cfg.Memory.EpisodeTTLDays > 0 {
		eng.EpisodeTTL = time.Duration(cfg.Memory.EpisodeTTLDays) * 24 * time.Hour
	}
	configureEmbedder(eng, cfg)

	sweep, err := eng.RunDecaySweep()
	if err != nil {
		return err
	}
	fmt.Printf("decay: %d facts swept (%d fading, %d expired), %d rules swept (%d fading, %d expired)\n",
		sweep.FactsSwept, sweep.FactsFading, sweep.FactsExpired,
		sweep.RulesSwept, sweep.RulesFading, sweep.RulesExpired)

	cleanup, err := eng.RunEpisodeCleanup(cfg.Memory.EpisodeMaxEntries)
	if err != nil {
		return err
	}
	fmt.Printf("cleanup: %d expired, %d evicted\n", cleanup.Expired, cleanup.Evicted)

	if maintainSkipConsolidation {
		return nil
	}

	res, err := eng.RunConsolidation(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("consolidation: %d batches, %d episodes, %d actions applied, %d skipped\n",
		res.Batches, res.Episodes, res.Applied, res.Skipped)
	return nil
}
