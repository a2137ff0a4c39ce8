package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/Basilakis/kai-sub003/pkg/types"
	"github.com/spf13/cobra"
)

var (
	registerMaterial string
	registerCategory string
	registerMethod   string
	registerMetadata []string
)

var registerCmd = &cobra.Command{
	Use:   "register <image>...",
	Short: "Add images of a material to the library",
	Long: `Embed one or more images of a known material and store them in the library.
Registered embeddings are also used as references when scoring quality.

Examples:
  kai register oak1.png oak2.png --material oak --category wood
  kai register slate.jpg -m slate --meta finish=honed`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRegister,
}

func init() {
	registerCmd.Flags().StringVarP(&registerMaterial, "material", "m", "", "Material ID (required)")
	registerCmd.Flags().StringVar(&registerCategory, "category", "", "Material category")
	registerCmd.Flags().StringVar(&registerMethod, "method", "", "Embedding method to start with")
	registerCmd.Flags().StringArrayVar(&registerMetadata, "meta", nil, "Metadata as key=value pairs")
	registerCmd.MarkFlagRequired("material")
}

func runRegister(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	metadata := parseMetadata(registerMetadata)

	for _, path := range args {
		rec, err := a.svc.Register(ctx, types.RegisterRequest{
			ImagePath:  path,
			MaterialID: registerMaterial,
			Category:   registerCategory,
			Method:     types.ParseMethod(registerMethod),
			Metadata:   metadata,
		})
		if err != nil {
			return fmt.Errorf("failed to register %s: %w", path, err)
		}

		if verbose {
			fmt.Printf("Registered %s:\n", path)
			fmt.Printf("  ID:       %s\n", rec.ID)
			fmt.Printf("  Material: %s\n", rec.MaterialID)
			fmt.Printf("  Method:   %s\n", rec.Method)
			fmt.Printf("  Quality:  %.3f\n", rec.Quality)
		} else {
			fmt.Printf("Registered: %s (%s)\n", rec.ID, rec.Method)
		}
	}
	return nil
}

func parseMetadata(pairs []string) map[string]string {
	metadata := make(map[string]string)
	for _, m := range pairs {
		parts := strings.SplitN(m, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		}
	}
	return metadata
}
