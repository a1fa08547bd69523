package cli

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "memoryd",
	Short: "Layered memory engine for household assistants",
	Long: "Memoryd stores what an assistant observes, distills it into facts and\n" +
		"rules, and serves it back ranked by relevance, importance, and decayed\n" +
		"confidence. Single Go binary backed by SQLite.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.memoryd/config.toml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(maintainCmd)
}
