package cli

import (
	"fmt"

	"github.com/raphaelgruber/wayfarer/internal/config"
	"github.com/raphaelgruber/wayfarer/internal/knowledge"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the fixture records into the knowledge store",
	Long: `Write every record of the fixture (KNOWLEDGE_FIXTURE or the built-in
sample data) into the configured knowledge store with fresh embeddings.
Existing records with the same id are replaced.

The memory backend is seeded from the fixture on every start, so this
command is only useful with KNOWLEDGE_BACKEND=surreal.`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if cfg.KnowledgeBackend == config.BackendMemory {
		logger.Warn("seeding the memory backend has no lasting effect")
	}

	n, err := knowledge.Seed(ctx, application.Writer, application.Embedder, application.Fixture.Records)
	if err != nil {
		return err
	}
	if application.Index != nil {
		records, err := application.Knowledge.List(ctx)
		if err != nil {
			return fmt.Errorf("list records: %w", err)
		}
		if err := application.Index.Upsert(ctx, records); err != nil {
			return fmt.Errorf("sync vector index: %w", err)
		}
	}
	fmt.Printf("Seeded %d records.\n", n)
	return nil
}
