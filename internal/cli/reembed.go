package cli

import (
	"fmt"
	"os"

	"github.com/raphaelgruber/wayfarer/internal/knowledge"
	"github.com/spf13/cobra"
)

var (
	reembedMissing  bool
	reembedProgress bool
	reembedSchedule bool
	reembedCron     string
)

var reembedCmd = &cobra.Command{
	Use:   "reembed",
	Short: "Recompute record embeddings",
	Long: `Recompute the embeddings of all knowledge records and sync them to the
vector index. Run it after changing EMBED_PROVIDER or EMBED_MODEL.

With --schedule the command keeps running and re-embeds on the cron
schedule from REEMBED_SCHEDULE (or --cron) until interrupted.

Examples:
  wayfarer reembed
  wayfarer reembed --missing --progress
  wayfarer reembed --schedule --cron "@every 6h"`,
	Args: cobra.NoArgs,
	RunE: runReembed,
}

func init() {
	reembedCmd.Flags().BoolVar(&reembedMissing, "missing", false, "only embed records without an embedding")
	reembedCmd.Flags().BoolVar(&reembedProgress, "progress", false, "show a progress bar")
	reembedCmd.Flags().BoolVar(&reembedSchedule, "schedule", false, "run on a cron schedule until interrupted")
	reembedCmd.Flags().StringVar(&reembedCron, "cron", "", "cron spec for --schedule (default REEMBED_SCHEDULE)")
}

func runReembed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	re := application.Reembedder

	if reembedSchedule {
		spec := reembedCron
		if spec == "" {
			spec = cfg.ReembedSchedule
		}
		if spec == "" {
			return fmt.Errorf("no schedule: set REEMBED_SCHEDULE or --cron")
		}
		return re.Schedule(ctx, spec)
	}

	opts := knowledge.RunOptions{OnlyMissing: reembedMissing, Trigger: "manual"}
	theme := defaultTheme

	if reembedProgress && isTerminal(os.Stdout) {
		id, done, err := re.Launch(ctx, opts)
		if err != nil {
			return err
		}
		if err := RunJobProgress(application.Jobs, id); err != nil {
			return err
		}
		// The user may stop watching before the job ends.
		return <-done
	}

	job, err := re.Run(ctx, opts)
	if err != nil {
		return fmt.Errorf("reembed: %w", err)
	}
	fmt.Println(theme.completedStyle().Render("✓ Completed"))
	fmt.Print(jobSummary(job, theme))
	return nil
}
