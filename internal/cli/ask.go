package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/raphaelgruber/wayfarer/internal/orchestrator"
	"github.com/spf13/cobra"
)

var (
	askSession  string
	askLanguage string
	askJSON     bool
)

var askCmd = &cobra.Command{
	Use:   "ask <utterance>",
	Short: "Send a single turn to the assistant",
	Long: `Send one utterance to the assistant and print the reply.

Pass --session to continue a conversation; the session id of every reply
is printed so it can be reused. Sessions only outlive the process with
SESSION_BACKEND=redis.

Examples:
  wayfarer ask "What can I see in Luxor?"
  wayfarer ask "cheap hotels" --session 6f1c...
  wayfarer ask "restaurants in Cairo" --lang fr
  wayfarer ask "weather in Aswan" --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "continue an existing session")
	askCmd.Flags().StringVarP(&askLanguage, "lang", "l", "", "reply language (en, ar, fr); detected when empty")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full turn result as JSON")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := startApp(ctx); err != nil {
		return err
	}

	res, err := application.Orchestrator.HandleTurn(ctx, orchestrator.TurnRequest{
		SessionID: askSession,
		Utterance: strings.Join(args, " "),
		Language:  askLanguage,
	})
	if err != nil {
		return fmt.Errorf("turn: %w", err)
	}

	if askJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	styles := newStyles(defaultTheme, isTerminal(os.Stdout))
	fmt.Print(renderResult(res, styles, verbose))
	fmt.Println(styles.hint.Render("session: " + res.SessionID))
	return nil
}
