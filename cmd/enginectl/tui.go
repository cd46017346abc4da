package main

import (
	"context"
	"fmt"
	"time"

	"github.com/climbtree/chesszero/coordinator"

	tea "github.com/charmbracelet/bubbletea"
)

// dashboard is the bubbletea model for the -tui flag, grounded on
// brensch-snek2/executor/main.go's model/Init/Update/View/TickMsg
// pattern: that teacher polled per-worker atomics and a game-update
// channel on a 100ms tick; this dashboard instead polls the Coordinator's
// own status and replay-buffer hooks, since this engine centralizes that
// state rather than exposing per-worker counters to the UI layer.
type dashboard struct {
	coord *coordinator.Coordinator

	startTime time.Time
	statusMsg string
	statusCod int32
	rbufSize  int
	rbufCount uint64
	gen       uint64

	recentPGNs []string
}

// tickMsg drives the periodic status refresh, matching the teacher's
// TickMsg time.Time.
type tickMsg time.Time

func newDashboard(coord *coordinator.Coordinator) dashboard {
	return dashboard{
		coord:     coord,
		startTime: time.Now(),
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// waitForPGN blocks on GetNextPGN and re-arms itself via the returned
// command, the same "blocking receive wrapped as a Cmd" idiom the
// teacher's waitForUpdate(updates chan GameUpdate) uses for its worker
// update channel.
func waitForPGN(coord *coordinator.Coordinator) tea.Cmd {
	return func() tea.Msg {
		pgn, err := coord.GetNextPGN(context.Background(), 200*time.Millisecond)
		if err != nil {
			return nil
		}
		return pgnMsg(pgn)
	}
}

type pgnMsg string

func (m dashboard) Init() tea.Cmd {
	return tea.Batch(tickCmd(), waitForPGN(m.coord))
}

func (m dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tickMsg:
		m.statusCod, m.statusMsg = m.coord.Status()
		m.rbufSize, m.rbufCount = m.coord.GetRbuf()
		m.gen = m.coord.ModelGeneration()
		return m, tickCmd()
	case pgnMsg:
		m.recentPGNs = append(m.recentPGNs, string(msg))
		if len(m.recentPGNs) > 10 {
			m.recentPGNs = m.recentPGNs[len(m.recentPGNs)-10:]
		}
		return m, waitForPGN(m.coord)
	}
	return m, nil
}

func (m dashboard) View() string {
	duration := time.Since(m.startTime).Round(time.Second)

	s := "chesszero engine\n\n"
	s += fmt.Sprintf("Status:         %s (%s)\n", statusName(m.statusCod), m.statusMsg)
	s += fmt.Sprintf("Duration:       %s\n", duration)
	s += fmt.Sprintf("Model gen:      %d\n", m.gen)
	s += fmt.Sprintf("Replay buffer:  %d / %d\n\n", m.rbufCount, m.rbufSize)

	s += "Recent games:\n"
	for _, pgn := range m.recentPGNs {
		s += "  " + truncate(pgn, 72) + "\n"
	}

	s += "\nPress q to quit.\n"
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
