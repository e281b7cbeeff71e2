package cmd

import (
	"fmt"

	"github.com/Nallieheai/clanwarden/clanwarden"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints the version and exits",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Printf(
			"clanwarden %s (commit: %s) (built: %s)\n",
			clanwarden.Version,
			clanwarden.CommitSHA,
			clanwarden.BuildTime,
		)
	},
}

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(versionCmd)
}
