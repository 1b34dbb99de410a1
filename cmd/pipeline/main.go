package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Jacobine pipeline producer and stage consumers",
		Long:  "Seed and drive the staged download/extract/analysis message graph for a tracked project.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.yml", "Path to the pipeline config file")
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(consumeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
