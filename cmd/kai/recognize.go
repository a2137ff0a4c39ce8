package main

import (
	"context"
	"fmt"

	"github.com/Basilakis/kai-sub003/pkg/types"
	"github.com/spf13/cobra"
)

var (
	recognizeLimit     int
	recognizeThreshold float32
	recognizeCategory  string
	recognizeMethod    string
	recognizeJSON      bool
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <image>",
	Short: "Find the library materials closest to an image",
	Long: `Embed an image and rank library materials by cosine similarity. Only library
embeddings produced by the same method as the query are compared.

Examples:
  kai recognize sample.jpg
  kai recognize sample.jpg --category wood --limit 3
  kai recognize sample.jpg --threshold 0.8 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runRecognize,
}

func init() {
	recognizeCmd.Flags().IntVarP(&recognizeLimit, "limit", "n", 0, "Maximum results (default from config)")
	recognizeCmd.Flags().Float32VarP(&recognizeThreshold, "threshold", "t", 0, "Minimum similarity (default from config)")
	recognizeCmd.Flags().StringVar(&recognizeCategory, "category", "", "Only match this category")
	recognizeCmd.Flags().StringVar(&recognizeMethod, "method", "", "Embedding method to start with")
	recognizeCmd.Flags().BoolVar(&recognizeJSON, "json", false, "Output as JSON")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.svc.Recognize(ctx, types.RecognizeRequest{
		ImagePath: args[0],
		Method:    types.ParseMethod(recognizeMethod),
		Category:  recognizeCategory,
		Limit:     recognizeLimit,
		Threshold: recognizeThreshold,
	})
	if err != nil {
		return fmt.Errorf("recognition failed: %w", err)
	}

	if recognizeJSON {
		return printJSON(resp)
	}

	if resp.Total == 0 {
		fmt.Printf("No matching materials (query embedded with %s)\n", resp.Query.Method)
		return nil
	}

	fmt.Printf("Found %d matches (%dms, %s):\n\n", resp.Total, resp.Timing, resp.Query.Method)
	for i, m := range resp.Matches {
		fmt.Printf("%d. [%.3f] %s", i+1, m.Similarity, m.Record.MaterialID)
		if m.Record.Category != "" {
			fmt.Printf(" (%s)", m.Record.Category)
		}
		fmt.Println()
		if m.Record.ImagePath != "" {
			fmt.Printf("   Image: %s\n", m.Record.ImagePath)
		}
	}
	return nil
}
