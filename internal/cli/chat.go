package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/wayfarer/internal/models"
	"github.com/raphaelgruber/wayfarer/internal/orchestrator"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var chatLanguage string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant interactively",
	Long: `Start an interactive conversation. Slots collected in earlier turns are
kept for the rest of the session.

Commands:
  /new    start a new session
  /quit   leave (Ctrl+D works too)`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatLanguage, "lang", "l", "", "reply language (en, ar, fr); detected when empty")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := startApp(ctx); err != nil {
		return err
	}
	styles := newStyles(defaultTheme, isTerminal(os.Stdout))
	fmt.Println(styles.hint.Render("Type a message, /new for a new session, /quit to leave."))
	return chatLoop(ctx, os.Stdin, os.Stdout, application.Orchestrator.HandleTurn, styles, chatLanguage)
}

type turnFunc func(context.Context, orchestrator.TurnRequest) (models.TurnResult, error)

// chatLoop reads one utterance per line until EOF or /quit. Invalid input
// and busy sessions are reported and the loop continues.
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, handle turnFunc, st palette, lang string) error {
	scanner := bufio.NewScanner(in)
	sessionID := ""
	for {
		fmt.Fprint(out, st.prompt.Render("you> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			sessionID = ""
			fmt.Fprintln(out, st.hint.Render("Started a new session."))
			continue
		}

		res, err := handle(ctx, orchestrator.TurnRequest{SessionID: sessionID, Utterance: line, Language: lang})
		switch {
		case errors.Is(err, orchestrator.ErrInvalidInput), errors.Is(err, orchestrator.ErrSessionBusy):
			fmt.Fprintln(out, st.warn.Render(err.Error()))
			continue
		case err != nil:
			return err
		}
		sessionID = res.SessionID
		fmt.Fprint(out, renderResult(res, st, verbose))
	}
}

type palette struct {
	prompt    lipgloss.Style
	assistant lipgloss.Style
	hint      lipgloss.Style
	warn      lipgloss.Style
}

// newStyles returns colored styles, or plain ones when color is false.
func newStyles(t Theme, color bool) palette {
	if !color {
		plain := lipgloss.NewStyle()
		return palette{prompt: plain, assistant: plain, hint: plain, warn: plain}
	}
	return palette{
		prompt:    t.statusStyle().Bold(true),
		assistant: lipgloss.NewStyle().Foreground(t.Assistant),
		hint:      t.hintStyle(),
		warn:      t.errorStyle(),
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// renderResult formats a reply with its suggestions and media. With debug
// set it also shows the intent, action and path taken.
func renderResult(res models.TurnResult, s palette, debug bool) string {
	var b strings.Builder
	b.WriteString(s.assistant.Render(res.Text))
	b.WriteString("\n")
	for _, m := range res.Media {
		fmt.Fprintf(&b, "  [%s] %s\n", m.Kind, m.URL)
	}
	if len(res.Suggestions) > 0 {
		b.WriteString(s.hint.Render("  try: " + strings.Join(res.Suggestions, " | ")))
		b.WriteString("\n")
	}
	if res.Degraded {
		b.WriteString(s.warn.Render("  (some services were unavailable)"))
		b.WriteString("\n")
	}
	if debug {
		path := "full"
		if res.FastPath {
			path = "fast"
		}
		b.WriteString(s.hint.Render(fmt.Sprintf("  intent=%s action=%s lang=%s path=%s", res.Intent, res.Action, res.Language, path)))
		b.WriteString("\n")
	}
	return b.String()
}
