package cli

import (
	"fmt"
	"strings"

	"github.com/raphaelgruber/wayfarer/internal/models"
	"github.com/spf13/cobra"
)

var (
	searchClass     string
	searchCity      string
	searchCategory  string
	searchPriceBand string
	searchLimit     int
	searchRelax     bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Query the knowledge base without the dialog layer",
	Long: `Rank attractions, hotels or restaurants with the hybrid keyword and
vector ranker, the same way a turn does.

Examples:
  wayfarer search "ancient temples" --city Luxor
  wayfarer search --class hotel --city Cairo --price budget
  wayfarer search "seafood" --class restaurant --relax`,
	Args: cobra.ArbitraryArgs,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVarP(&searchClass, "class", "c", string(models.ClassAttraction), "record class: attraction, hotel or restaurant")
	searchCmd.Flags().StringVar(&searchCity, "city", "", "filter by city")
	searchCmd.Flags().StringVar(&searchCategory, "category", "", "filter by category")
	searchCmd.Flags().StringVar(&searchPriceBand, "price", "", "filter by price band: budget, mid or luxury")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "max results")
	searchCmd.Flags().BoolVar(&searchRelax, "relax", false, "drop filters one at a time when nothing matches")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := startApp(ctx); err != nil {
		return err
	}
	class := models.EntityClass(searchClass)
	if !class.Valid() {
		return fmt.Errorf("unknown class %q", searchClass)
	}
	query := strings.Join(args, " ")
	filters := models.Filters{City: searchCity, Category: searchCategory, PriceBand: searchPriceBand}

	var (
		results []models.ScoredRecord
		dropped []string
	)
	if searchRelax {
		relaxed, err := application.Retriever.SearchRelaxed(ctx, class, query, filters, searchLimit)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		results, dropped = relaxed.Results, relaxed.Dropped
	} else {
		var err error
		results, err = application.Retriever.Search(ctx, class, query, filters, searchLimit)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	if len(dropped) > 0 {
		fmt.Printf("No exact match, dropped filters: %s\n", strings.Join(dropped, ", "))
	}

	fmt.Printf("Found %d results:\n\n", len(results))
	for i, r := range results {
		fmt.Printf("%d. %s [%s, %s]\n", i+1, r.Record.Name.In("en"), r.Record.City, r.Record.PriceBand)
		if desc := r.Record.Description.In("en"); desc != "" {
			fmt.Printf("   %s\n", desc)
		}
		if verbose {
			fmt.Printf("   score %.3f  id %s  rating %.1f\n", r.Score, r.Record.ID, r.Record.Rating)
		}
		fmt.Println()
	}
	return nil
}
