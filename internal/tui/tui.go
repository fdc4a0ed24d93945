// Package tui is a terminal front end for one checkout session. It renders
// the step indicator, error banner, connectivity and toasts, and forwards
// the checkout keyboard shortcuts to the session.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wufi/storefront-checkout/internal/backend"
	"github.com/wufi/storefront-checkout/internal/checkout"
	"github.com/wufi/storefront-checkout/internal/orchestrator"
)

// RefreshInterval is how often the screen polls the session.
const RefreshInterval = 250 * time.Millisecond

// ActionTimeout bounds a single submit, retry or order placement.
const ActionTimeout = 30 * time.Second

// Driver is the part of a checkout session the screen needs.
// *orchestrator.Orchestrator implements it.
type Driver interface {
	View() orchestrator.View
	HandleKey(ctx context.Context, key string) (string, error)
	Submit(ctx context.Context, step checkout.StepID) error
	PlaceOrder(ctx context.Context) (backend.Order, error)
}

type tickMsg time.Time

type actionMsg struct {
	status string
	err    error
}

// Model is the bubbletea model of the checkout screen.
type Model struct {
	driver   Driver
	styles   Styles
	progress progress.Model
	view     orchestrator.View
	status   string
	failed   bool
	busy     bool
	width    int
}

// New returns a Model driving d.
func New(d Driver) Model {
	return Model{
		driver:   d,
		styles:   DefaultStyles(),
		progress: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		view:     d.View(),
		width:    80,
	}
}

func tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	return tick()
}

// run executes fn off the update loop.
func (m Model) run(fn func(ctx context.Context) (string, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), ActionTimeout)
		defer cancel()
		status, err := fn(ctx)
		return actionMsg{status: status, err: err}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = max(msg.Width-4, 10)
		return m, nil

	case tickMsg:
		m.view = m.driver.View()
		return m, tick()

	case actionMsg:
		m.busy = false
		m.failed = msg.err != nil
		if msg.err != nil {
			m.status = msg.err.Error()
		} else {
			m.status = msg.status
		}
		m.view = m.driver.View()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	if m.busy {
		return m, nil
	}

	var cmd tea.Cmd
	switch key {
	case "enter":
		step := m.view.CurrentStep
		if step == checkout.StepReview {
			cmd = m.run(func(ctx context.Context) (string, error) {
				order, err := m.driver.PlaceOrder(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("order %d placed", order.DisplayID), nil
			})
		} else {
			cmd = m.run(func(ctx context.Context) (string, error) {
				if err := m.driver.Submit(ctx, step); err != nil {
					return "", err
				}
				return string(step) + " submitted", nil
			})
		}
	default:
		cmd = m.run(func(ctx context.Context) (string, error) {
			return m.driver.HandleKey(ctx, key)
		})
	}
	m.busy = true
	m.status = "working..."
	m.failed = false
	return m, cmd
}

// View renders the screen.
func (m Model) View() string {
	v := m.view
	s := m.styles
	var sb strings.Builder

	header := s.Header.Render("wufi checkout")
	if !v.Online {
		header = lipgloss.JoinHorizontal(lipgloss.Center, header, " ", s.Offline.Render("offline"))
	}
	sb.WriteString(header + "\n\n")

	sb.WriteString(m.progress.ViewAs(v.Progress) + "\n")
	sb.WriteString(s.Muted.Render(fmt.Sprintf("step %d of %d", v.StepIndex+1, v.TotalSteps)) + "\n\n")

	for _, st := range v.Steps {
		sb.WriteString(m.renderStep(st) + "\n")
	}
	sb.WriteString("\n")

	if v.Error != nil {
		msg := v.Error.Message
		if v.Error.Retryable {
			msg += "  [r] retry"
		}
		sb.WriteString(s.Banner.Render(msg+"  [x] dismiss") + "\n")
	}
	if v.PendingCount > 0 {
		sb.WriteString(s.Pending.Render(fmt.Sprintf("%d change(s) waiting to be sent", v.PendingCount)) + "\n")
	}
	for _, t := range v.Toasts {
		line := t.Title
		if t.Message != "" {
			line += ": " + t.Message
		}
		sb.WriteString(s.Toast.Render("• "+line) + "\n")
	}

	auto := "off"
	if v.AutoAdvance.Enabled {
		auto = "on"
	}
	sb.WriteString("\n" + s.Muted.Render(fmt.Sprintf(
		"[1-6] jump  [n/p] next/prev  [enter] submit  [a] auto-advance (%s)  [q] quit", auto)) + "\n")

	if m.status != "" {
		style := s.StatusOK
		if m.failed {
			style = s.Status
		}
		sb.WriteString(style.Render(m.status) + "\n")
	}
	return sb.String()
}

func (m Model) renderStep(st orchestrator.StepStatus) string {
	s := m.styles
	label := fmt.Sprintf("%d. %s", st.Index+1, st.ID)
	if st.Optional {
		label += " (optional)"
	}
	switch {
	case st.Current:
		line := "> " + label
		if st.Phase != "" {
			line += "  " + string(st.Phase)
		}
		if m.view.AdvancePending {
			line += "  advancing..."
		}
		return s.Current.Render(line)
	case st.Valid:
		return s.Done.Render("✓ " + label)
	case !st.Reachable:
		return s.Locked.Render("  " + label)
	default:
		return "  " + label
	}
}

// Run shows the screen until the user quits.
func Run(ctx context.Context, d Driver) error {
	p := tea.NewProgram(New(d), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
