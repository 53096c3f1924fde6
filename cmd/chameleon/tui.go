package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#5A56E0")).Padding(0, 1)
	barFilled = lipgloss.NewStyle().Foreground(lipgloss.Color("#5AE05A"))
	barEmpty  = lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))
	doneStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5AE05A")).Bold(true)
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// snapshotProgressMsg carries one snapshot.ProgressFunc call into the Bubble
// Tea update loop.
type snapshotProgressMsg struct {
	table                   string
	slice, totalSlices      int
	rowsCopied, totalRows   int64
}

type tableState struct {
	slice, totalSlices    int
	rowsCopied, totalRows int64
	done                  bool
}

// snapshotModel renders one progress bar per table as slices complete.
type snapshotModel struct {
	updates chan snapshotProgressMsg
	tables  map[string]*tableState
	order   []string
	width   int
}

func newSnapshotModel(updates chan snapshotProgressMsg) snapshotModel {
	return snapshotModel{updates: updates, tables: make(map[string]*tableState), width: 80}
}

// snapshotDoneMsg signals the updates channel closed. bubbletea drops a nil
// Cmd result silently rather than dispatching it, so completion needs its
// own message type instead of returning nil.
type snapshotDoneMsg struct{}

func waitForProgress(ch chan snapshotProgressMsg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return snapshotDoneMsg{}
		}
		return msg
	}
}

func (m snapshotModel) Init() tea.Cmd {
	return waitForProgress(m.updates)
}

func (m snapshotModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case snapshotProgressMsg:
		st, ok := m.tables[msg.table]
		if !ok {
			st = &tableState{}
			m.tables[msg.table] = st
			m.order = append(m.order, msg.table)
			sort.Strings(m.order)
		}
		st.slice, st.totalSlices = msg.slice, msg.totalSlices
		st.rowsCopied, st.totalRows = msg.rowsCopied, msg.totalRows
		st.done = msg.slice >= msg.totalSlices
		return m, waitForProgress(m.updates)
	case snapshotDoneMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m snapshotModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(" chameleon snapshot") + "\n\n")
	barWidth := 30
	for _, name := range m.order {
		st := m.tables[name]
		frac := 0.0
		if st.totalRows > 0 {
			frac = float64(st.rowsCopied) / float64(st.totalRows)
		} else if st.done {
			frac = 1.0
		}
		filled := int(frac * float64(barWidth))
		bar := barFilled.Render(strings.Repeat("█", filled)) + barEmpty.Render(strings.Repeat("░", barWidth-filled))
		status := fmt.Sprintf("%-24s %s %d/%d rows", name, bar, st.rowsCopied, st.totalRows)
		if st.done {
			status = doneStyle.Render("✓ ") + status
		} else {
			status = "  " + status
		}
		b.WriteString(status + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("ctrl+c to detach (snapshot keeps running)"))
	return b.String()
}

// runSnapshotTUI drives the Bubble Tea program until updates is closed.
func runSnapshotTUI(updates chan snapshotProgressMsg) error {
	p := tea.NewProgram(newSnapshotModel(updates))
	_, err := p.Run()
	return err
}

// isTerminal reports whether stdout is an interactive terminal; on a
// non-interactive stdout (CI logs, redirected files) the snapshot command
// falls back to plain logrus lines instead of the Bubble Tea dashboard.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
