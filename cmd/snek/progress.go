package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/brensch/snekgym/selfplay"
)

const recentEpisodes = 10

type tickMsg time.Time

type runFinishedMsg struct {
	summary selfplay.Summary
	err     error
}

// progressModel shows live selfplay counters.
type progressModel struct {
	runner  *selfplay.Runner
	updates <-chan selfplay.EpisodeResult

	startTime  time.Time
	episodes   int64
	steps      int64
	apples     int
	bestReturn int
	outcomes   map[string]int
	recent     []string
	finished   *runFinishedMsg
}

func newProgressModel(r *selfplay.Runner, updates <-chan selfplay.EpisodeResult) progressModel {
	return progressModel{
		runner:    r,
		updates:   updates,
		startTime: time.Now(),
		outcomes:  make(map[string]int),
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForUpdate(updates <-chan selfplay.EpisodeResult) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tickMsg:
		if m.runner != nil {
			m.episodes, m.steps = m.runner.Stats()
		}
		return m, tickCmd()
	case selfplay.EpisodeResult:
		m.apples += msg.ApplesEaten
		if len(m.outcomes) == 0 || msg.Return > m.bestReturn {
			m.bestReturn = msg.Return
		}
		m.outcomes[msg.Outcome]++
		line := fmt.Sprintf("Worker %d: %s, Steps %d, Apples %d, Return %d", msg.WorkerID, msg.Outcome, msg.Steps, msg.ApplesEaten, msg.Return)
		m.recent = append([]string{line}, m.recent...)
		if len(m.recent) > recentEpisodes {
			m.recent = m.recent[:recentEpisodes]
		}
		return m, waitForUpdate(m.updates)
	case runFinishedMsg:
		m.finished = &msg
		m.episodes, m.steps = msg.summary.Episodes, msg.summary.Steps
		return m, tea.Quit
	}
	return m, nil
}

func (m progressModel) View() string {
	duration := time.Since(m.startTime)
	episodesPerSec := float64(m.episodes) / duration.Seconds()
	stepsPerSec := float64(m.steps) / duration.Seconds()
	if duration.Seconds() < 1 {
		episodesPerSec = 0
		stepsPerSec = 0
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Episodes:     %d\n", m.episodes)
	fmt.Fprintf(&b, "Steps:        %d\n", m.steps)
	fmt.Fprintf(&b, "Apples:       %d\n", m.apples)
	fmt.Fprintf(&b, "Best return:  %d\n", m.bestReturn)
	fmt.Fprintf(&b, "Duration:     %s\n", duration.Round(time.Second))
	fmt.Fprintf(&b, "Episodes/Sec: %.2f\n", episodesPerSec)
	fmt.Fprintf(&b, "Steps/Sec:    %.2f\n\n", stepsPerSec)

	if len(m.outcomes) > 0 {
		b.WriteString("Outcomes:\n")
		for _, name := range []string{"wall", "reversal", "self_collision", "board_full", "moved", "ate"} {
			if n, ok := m.outcomes[name]; ok {
				fmt.Fprintf(&b, "  %-15s %d\n", name, n)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("Recent Episodes:\n")
	for _, line := range m.recent {
		b.WriteString(line + "\n")
	}

	if m.finished != nil {
		b.WriteString("\nRun finished.\n")
	} else {
		b.WriteString("\nPress q to quit.\n")
	}
	return b.String()
}
