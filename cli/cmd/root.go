// Package cmd is the rclindex Cobra tree, shaped exactly like the
// teacher's cli/cmd: one rootCmd with persistent flags, one file per
// subcommand, each registering itself in init().
package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:          "rclindex",
		Short:        "rclindex",
		SilenceUsage: true,
		Long:         `A personal full-text indexer and query engine.`,
	}

	directory string
	verbose   bool
	logger    = logrus.StandardLogger()
)

// Execute executes the root command.
func Execute() error {
	rootCmd.PersistentFlags().StringVarP(&directory, "directory", "d", ".", "directory holding rclindex.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging and tree dumps")
	return rootCmd.Execute()
}

func init() {
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
