package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/Basilakis/kai-sub003/internal/store"
	"github.com/Basilakis/kai-sub003/pkg/types"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List library records",
	Long: `List records in the material library, newest first.

Examples:
  kai list
  kai list --material oak
  kai list --category wood --limit 50`,
	RunE: runList,
}

var (
	listLimit    int
	listMaterial string
	listCategory string
)

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum results")
	listCmd.Flags().StringVarP(&listMaterial, "material", "m", "", "Filter by material ID")
	listCmd.Flags().StringVar(&listCategory, "category", "", "Filter by category")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	recs, err := a.svc.List(ctx, store.ListOptions{
		MaterialID: listMaterial,
		Category:   listCategory,
		Limit:      listLimit,
		OrderBy:    "created_at",
		Descending: true,
	})
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}

	if len(recs) == 0 {
		fmt.Println("No records found")
		return nil
	}

	for _, r := range recs {
		fmt.Printf("  %-20s %-14s q=%.3f  %s\n", r.MaterialID, r.Method, r.Quality, r.CreatedAt.Local().Format("2006-01-02 15:04"))
		fmt.Printf("    ID: %s\n", r.ID)
		if r.ImagePath != "" {
			fmt.Printf("    Image: %s\n", r.ImagePath)
		}
	}
	return nil
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a library record",
	Long: `Delete a library record by its ID, or every record of a material.

Examples:
  kai delete 3f2c9e1a-...
  kai delete --material oak`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDelete,
}

var deleteMaterial string

func init() {
	deleteCmd.Flags().StringVarP(&deleteMaterial, "material", "m", "", "Delete every record of this material")
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if deleteMaterial != "" {
		n, err := a.svc.DeleteMaterial(ctx, deleteMaterial)
		if err != nil {
			return fmt.Errorf("failed to delete material: %w", err)
		}
		fmt.Printf("Deleted %d records of '%s'\n", n, deleteMaterial)
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("record ID required (or use --material)")
	}

	id := args[0]
	if err := a.svc.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	fmt.Printf("Deleted: %s\n", id)
	return nil
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show library and embedding statistics",
	Long: `Show material library statistics and adaptive embedding performance.

Examples:
  kai stats
  kai stats --json`,
	RunE: runStats,
}

var statsJSON bool

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	lib, err := a.svc.LibraryStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}
	perf := a.svc.PerformanceStats()

	if statsJSON {
		return printJSON(map[string]any{"library": lib, "performance": perf})
	}

	fmt.Println("Library")
	fmt.Println("───────")
	fmt.Printf("Records:       %d\n", lib.TotalRecords)
	fmt.Printf("Materials:     %d\n", lib.MaterialCount)
	fmt.Printf("Categories:    %d\n", lib.CategoryCount)
	fmt.Printf("Storage size:  %.2f MB\n", float64(lib.StorageBytes)/1024/1024)
	fmt.Println()

	fmt.Println("Embeddings")
	fmt.Println("──────────")
	fmt.Printf("Total:         %d\n", perf.TotalEmbeddings)
	fmt.Printf("Switches:      %d\n", perf.MethodSwitches)
	fmt.Printf("Best method:   %s\n", perf.BestMethod)
	fmt.Printf("Materials:     %d\n", len(perf.MaterialPerformance))
	fmt.Println()

	fmt.Printf("  %-14s %8s %9s %10s\n", "method", "usage", "quality", "avg time")
	for _, m := range types.AllMethods() {
		fmt.Printf("  %-14s %8d %9.3f %9.1fms\n", m, perf.MethodUsage[m], perf.AverageQuality[m], perf.AverageTime[m]*1000)
	}

	if verbose && len(perf.MaterialPerformance) > 0 {
		ids := make([]string, 0, len(perf.MaterialPerformance))
		for id := range perf.MaterialPerformance {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		fmt.Println()
		fmt.Println("Preferred methods:")
		for _, id := range ids {
			fmt.Printf("  %-20s %s\n", id, perf.MaterialPerformance[id].PreferredMethod)
		}
	}
	return nil
}

var clearStatsCmd = &cobra.Command{
	Use:   "clear-stats",
	Short: "Reset adaptive embedding statistics",
	Long: `Reset all performance statistics and forget the method remembered for each
material. The library is not touched.

Examples:
  kai clear-stats`,
	RunE: runClearStats,
}

func runClearStats(cmd *cobra.Command, args []string) error {
	a, err := initApp(context.Background())
	if err != nil {
		return err
	}
	defer a.Close()

	a.svc.ClearStats()
	fmt.Println("Performance statistics cleared")
	return nil
}

var exportCmd = &cobra.Command{
	Use:   "export-references <file>",
	Short: "Write the library as a reference embedding file",
	Long: `Write every library embedding, grouped by material, to a JSON file that can be
used as embedding.reference_path.

Examples:
  kai export-references refs.json
  kai export-references -   # stdout`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if args[0] == "-" {
		_, err := a.svc.ExportReferences(ctx, os.Stdout)
		return err
	}

	f, err := os.Create(args[0])
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", args[0], err)
	}
	n, err := a.svc.ExportReferences(ctx, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Printf("Exported %d materials to %s\n", n, args[0])
	return nil
}
