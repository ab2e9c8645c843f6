package cli

import (
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/wayfarer/internal/jobs"
)

const pollInterval = 200 * time.Millisecond

// Theme holds the color scheme for terminal output.
type Theme struct {
	Status    lipgloss.Color
	Success   lipgloss.Color
	Error     lipgloss.Color
	Hint      lipgloss.Color
	Assistant lipgloss.Color
}

var defaultTheme = Theme{
	Status:    lipgloss.Color("#5FAFD7"), // light blue
	Success:   lipgloss.Color("#00D787"), // green
	Error:     lipgloss.Color("#FF005F"), // red
	Hint:      lipgloss.Color("#6C6C6C"), // dim gray
	Assistant: lipgloss.Color("#D7AF5F"), // sand
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the job status
type tickMsg time.Time

// jobUpdateMsg carries a job snapshot
type jobUpdateMsg struct {
	job jobs.Job
	ok  bool
}

// jobSource looks up a job. *jobs.Manager satisfies it.
type jobSource interface {
	Get(id string) *jobs.Job
}

// progressModel is the bubbletea model for job progress.
type progressModel struct {
	source   jobSource
	jobID    string
	job      jobs.Job
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel(source jobSource, jobID string) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return progressModel{
		source:   source,
		jobID:    jobID,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (start polling).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchJob()

	case jobUpdateMsg:
		if !msg.ok {
			m.err = fmt.Errorf("job not found: %s", m.jobID)
			m.done = true
			return m, tea.Quit
		}
		m.job = msg.job

		switch m.job.Status {
		case jobs.StatusCompleted:
			m.done = true
			return m, tea.Quit
		case jobs.StatusFailed:
			m.done = true
			if m.job.Error != "" {
				m.err = fmt.Errorf("%s", m.job.Error)
			} else {
				m.err = fmt.Errorf("job failed with unknown error")
			}
			return m, tea.Quit
		}
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}
	if m.job.ID == "" {
		return "Waiting for job...\n"
	}

	var pct float64
	if m.job.Total > 0 {
		pct = float64(m.job.Progress) / float64(m.job.Total)
	}
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.job.Status))
	counts := fmt.Sprintf("%d/%d records", m.job.Progress, m.job.Total)
	hint := m.theme.hintStyle().Render("Press q to stop watching")

	return fmt.Sprintf("%s %s %s\n%s\n", status, m.progress.ViewAs(pct), counts, hint)
}

func (m progressModel) finalView() string {
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}
	if m.quitting {
		return m.theme.hintStyle().Render(fmt.Sprintf("\nStopped watching job %s.\n", m.jobID))
	}
	return m.theme.completedStyle().Render("✓ Completed") + "\n\n" + jobSummary(m.job, m.theme)
}

// jobSummary lists the result counters of a finished job.
func jobSummary(job jobs.Job, theme Theme) string {
	r := job.Result
	if r == nil {
		return ""
	}
	out := fmt.Sprintf("  Records processed: %d\n", r.Processed)
	out += fmt.Sprintf("  Embeddings updated: %d\n", r.Updated)
	if r.Skipped > 0 {
		out += fmt.Sprintf("  Skipped:           %d\n", r.Skipped)
	}
	if job.CompletedAt != nil {
		out += fmt.Sprintf("  Duration:          %s\n", job.CompletedAt.Sub(job.StartedAt).Round(time.Millisecond))
	}
	if len(r.Errors) > 0 {
		out += theme.errorStyle().Render(fmt.Sprintf("\nWarnings (%d):\n", len(r.Errors)))
		for _, e := range r.Errors {
			out += fmt.Sprintf("  • %s\n", e)
		}
	}
	return out
}

// fetchJob reads the current job snapshot in a command so Update never
// blocks on the manager lock.
func (m progressModel) fetchJob() tea.Cmd {
	return func() tea.Msg {
		job := m.source.Get(m.jobID)
		if job == nil {
			return jobUpdateMsg{}
		}
		return jobUpdateMsg{job: job.Snapshot(), ok: true}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunJobProgress shows a progress bar for jobID until the job finishes or
// the user stops watching. Returns the job error on failure.
func RunJobProgress(source jobSource, jobID string) error {
	p := tea.NewProgram(newProgressModel(source, jobID))

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := finalModel.(progressModel); ok && m.err != nil {
		return m.err
	}
	return nil
}
