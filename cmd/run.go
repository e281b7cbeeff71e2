package cmd

import (
	"log"

	"github.com/Nallieheai/clanwarden/clanwarden"
	"github.com/spf13/cobra"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the ClanWarden bot and (optionally) the status API",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			cw, err := clanwarden.New(cfg)
			if err != nil {
				log.Fatalf("error creating clanwarden: %s", err.Error())
			}

			if err = cw.Run(ctx); err != nil {
				log.Fatalf("error running clanwarden: %s", err.Error())
			}
		},
	}
)

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
