package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor   bool
	workspace string
)

var rootCmd = &cobra.Command{
	Use:           "echotrain",
	Short:         "NLU dataset validation and training orchestration",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "default", "workspace id")

	rootCmd.AddCommand(serveCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(datasetCmd, annotationCmd, trainCmd, jobCmd, chatCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
