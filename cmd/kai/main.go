// kai - adaptive material embeddings and recognition
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "dev"

	// Global flags
	cfgFile    string
	dataDir    string
	mlEndpoint string
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kai",
	Short: "Adaptive material embeddings and recognition",
	Long: `kai turns material images into embeddings and recognizes materials against a
local reference library.

Each image is embedded with one of three methods (feature-based, ml-based, hybrid).
The quality of every embedding is scored, and when it falls below the threshold an
alternative method is tried and kept if it scores better. The method that works best
for each material is remembered across runs.

Examples:
  # Embed an image
  kai embed ./samples/oak.png --material oak

  # Add an image to the library
  kai register ./samples/oak.png --material oak --category wood

  # Find the closest known materials
  kai recognize ./unknown.jpg

  # Start the HTTP API
  kai serve`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default: ~/.kai)")
	rootCmd.PersistentFlags().StringVar(&mlEndpoint, "ml-endpoint", "", "ML embedding backend URL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(embedCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(recognizeCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(clearStatsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serveCmd)
}
