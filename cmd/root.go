package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "contrail",
	Short: "Contrail - momentum contrastive representation learning",
	Long: `Contrail trains image representations with momentum contrastive
learning: a query/key encoder pair, a circular queue of negative
examples, and an InfoNCE objective, with optional KNN negative mining
and an entropy-based clustering auxiliary loss.`,
}

func Execute() error {
	return rootCmd.Execute()
}
