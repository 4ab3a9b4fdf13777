package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/brensch/snekgym/env"
	"github.com/brensch/snekgym/rules"
)

func newPlayCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "play",
		Short: "Play an episode yourself with w/a/s/d or the arrow keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			// The TUI owns the terminal, so nothing logs to it.
			e, err := env.New(env.Config{
				GridDim:  opts.gridDim,
				MaxSteps: opts.maxStepsPtr(),
				Output:   io.Discard,
				Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
			})
			if err != nil {
				return err
			}

			final, err := tea.NewProgram(newPlayModel(e)).Run()
			if err != nil {
				return err
			}
			if m, ok := final.(playModel); ok {
				if m.finished > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Episodes finished: %d  Best total reward: %d\n", m.finished, m.best)
				}
			}
			return nil
		},
	}
}

type playModel struct {
	env *env.Env

	lastReward int
	lastMove   string
	done       bool
	message    string
	episodes   int
	finished   int
	best       int
}

func newPlayModel(e *env.Env) playModel {
	e.Reset()
	return playModel{env: e, episodes: 1}
}

func (m playModel) Init() tea.Cmd {
	return nil
}

func (m playModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "q", "esc", "ctrl+c":
		return m, tea.Quit
	case "r":
		m.env.Reset()
		m.episodes++
		m.done, m.lastReward, m.lastMove, m.message = false, 0, "", ""
		return m, nil
	}

	if m.done {
		return m, nil
	}
	move, err := rules.ParseMove(key.String())
	if err != nil {
		m.message = fmt.Sprintf("unknown key %q", key.String())
		return m, nil
	}

	_, reward, terminated, _, err := m.env.Step(move)
	if err != nil {
		m.message = err.Error()
		return m, nil
	}
	m.lastReward = reward
	m.lastMove = move.String()
	m.message = ""
	if terminated {
		m.done = true
		if total := m.env.Episode().TotalReward; m.finished == 0 || total > m.best {
			m.best = total
		}
		m.finished++
	}
	return m, nil
}

func (m playModel) View() string {
	ep := m.env.Episode()

	var b strings.Builder
	b.WriteString(m.env.State().String())
	fmt.Fprintf(&b, "Step: %d  Apples: %d\n", ep.Steps, ep.ApplesEaten)
	if m.lastMove != "" {
		fmt.Fprintf(&b, "Move: %s  Reward: %d\n", m.lastMove, m.lastReward)
	}
	fmt.Fprintf(&b, "Total reward: %d\n", ep.TotalReward)
	if m.message != "" {
		b.WriteString(m.message + "\n")
	}
	if m.done {
		reason := ep.Outcome.String()
		if ep.StepLimit {
			reason = "step limit"
		}
		fmt.Fprintf(&b, "\nTerminated (%s). Press r to play again, q to quit.\n", reason)
	} else {
		b.WriteString("\nw/a/s/d or arrows to move, q to quit.\n")
	}
	return b.String()
}
