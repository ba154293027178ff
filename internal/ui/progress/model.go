// Package progress shows a spinner while a blocking task runs in the
// background of a bubbletea program.
package progress

import (
	"context"
	"io"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mailsort/internal/theme"
)

// DoneMsg carries the outcome of the task.
type DoneMsg[T any] struct {
	Value T
	Err   error
}

// Task is the blocking work shown behind the spinner.
type Task[T any] func(ctx context.Context) (T, error)

// Model renders a spinner with a label until the task reports back.
type Model[T any] struct {
	spinner spinner.Model
	label   string
	task    Task[T]
	ctx     context.Context
	cancel  context.CancelFunc
	quit    key.Binding

	done      bool
	cancelled bool
	value     T
	err       error
}

// New creates a progress model for task. Pressing ctrl+c or q cancels the
// context handed to the task; the program exits once the task returns.
func New[T any](ctx context.Context, label string, task Task[T]) Model[T] {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.PathStyle

	ctx, cancel := context.WithCancel(ctx)
	return Model[T]{
		spinner: sp,
		label:   label,
		task:    task,
		ctx:     ctx,
		cancel:  cancel,
		quit: key.NewBinding(
			key.WithKeys("ctrl+c", "q"),
			key.WithHelp("q", "cancel"),
		),
	}
}

// Init starts the spinner and the task.
func (m Model[T]) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.start())
}

func (m Model[T]) start() tea.Cmd {
	ctx, task := m.ctx, m.task
	return func() tea.Msg {
		v, err := task(ctx)
		return DoneMsg[T]{Value: v, Err: err}
	}
}

// Update handles spinner ticks, cancellation and the task result.
func (m Model[T]) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case DoneMsg[T]:
		m.done = true
		m.value = msg.Value
		m.err = msg.Err
		m.cancel()
		return m, tea.Quit

	case tea.KeyMsg:
		if key.Matches(msg, m.quit) && !m.cancelled {
			m.cancelled = true
			m.cancel()
		}
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the spinner line, or nothing once the task is done.
func (m Model[T]) View() string {
	if m.done {
		return ""
	}
	label := m.label
	if m.cancelled {
		label += " " + theme.MutedStyle.Render("(cancelling)")
	} else {
		label += " " + theme.MutedStyle.Render(m.quit.Help().Key+" to "+m.quit.Help().Desc)
	}
	return m.spinner.View() + " " + label + "\n"
}

// Result returns the task outcome recorded by Update.
func (m Model[T]) Result() (T, error) {
	return m.value, m.err
}

// Run executes task behind a spinner rendered to out and returns its result.
func Run[T any](ctx context.Context, out io.Writer, label string, task Task[T]) (T, error) {
	m := New(ctx, label, task)
	final, err := tea.NewProgram(m, tea.WithOutput(out)).Run()
	if err != nil {
		m.cancel()
		var zero T
		return zero, err
	}
	return final.(Model[T]).Result()
}
