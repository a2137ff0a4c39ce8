package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/Basilakis/kai-sub003/pkg/types"
	"github.com/spf13/cobra"
)

var (
	embedMaterial   string
	embedMethod     string
	embedNoAdaptive bool
	embedOutput     string
	embedJSON       bool
)

var embedCmd = &cobra.Command{
	Use:   "embed <image>",
	Short: "Generate an embedding for an image",
	Long: `Generate an embedding for a material image.

With adaptive generation (the default) the embedding is scored and, when its quality
is below the threshold, an alternative method is tried. The method chosen for a
material is remembered and used first next time.

Methods:
  feature-based  - handcrafted colour and texture descriptor
  ml-based       - remote ML backend (requires --ml-endpoint)
  hybrid         - fusion of both (default)

Examples:
  kai embed oak.png
  kai embed oak.png --material oak --method feature-based
  kai embed oak.png --no-adaptive --output oak.json`,
	Args: cobra.ExactArgs(1),
	RunE: runEmbed,
}

func init() {
	embedCmd.Flags().StringVarP(&embedMaterial, "material", "m", "", "Material ID")
	embedCmd.Flags().StringVar(&embedMethod, "method", "", "Embedding method (feature-based, ml-based, hybrid)")
	embedCmd.Flags().BoolVar(&embedNoAdaptive, "no-adaptive", false, "Disable quality-driven method switching")
	embedCmd.Flags().StringVarP(&embedOutput, "output", "o", "", "Write the result as JSON to this file")
	embedCmd.Flags().BoolVar(&embedJSON, "json", false, "Print the full result as JSON")
}

func runEmbed(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	req := types.EmbedRequest{
		ImagePath:  args[0],
		MaterialID: embedMaterial,
		Method:     types.ParseMethod(embedMethod),
	}
	if embedNoAdaptive {
		off := false
		req.Adaptive = &off
	}

	res, err := a.svc.Embed(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to embed image: %w", err)
	}

	if embedOutput != "" {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(embedOutput, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", embedOutput, err)
		}
	}
	if embedJSON {
		return printJSON(res)
	}

	fmt.Printf("Embedded %s\n", args[0])
	fmt.Printf("  Method:     %s", res.Method)
	if res.InitialMethod != res.Method {
		fmt.Printf(" (started with %s)", res.InitialMethod)
	}
	fmt.Println()
	fmt.Printf("  Dimensions: %d\n", res.Dimensions)
	fmt.Printf("  Switches:   %d\n", res.MethodSwitches)
	fmt.Printf("  Time:       %.1fms\n", res.ProcessingTime*1000)
	printQuality(res.QualityScores)
	if embedOutput != "" {
		fmt.Printf("  Written to: %s\n", embedOutput)
	}
	return nil
}

func printQuality(scores map[types.EmbeddingMethod]types.QualityReport) {
	if len(scores) == 0 {
		return
	}
	methods := make([]string, 0, len(scores))
	for m := range scores {
		methods = append(methods, string(m))
	}
	sort.Strings(methods)

	fmt.Println("  Quality:")
	for _, m := range methods {
		fmt.Printf("    %-14s %.3f\n", m, scores[types.EmbeddingMethod(m)].Overall)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
