package cmd

import (
	"github.com/spf13/cobra"
)

var posterCmd = &cobra.Command{
	Use:   "poster",
	Short: "Poster artwork utilities",
}

func init() {
	rootCmd.AddCommand(posterCmd)
}
