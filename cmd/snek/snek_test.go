package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/brensch/snekgym/env"
	"github.com/brensch/snekgym/policy"
)

func newTestEnv(t *testing.T, dim int, out io.Writer, maxSteps *int) *env.Env {
	t.Helper()
	e, err := env.New(env.Config{
		GridDim:  dim,
		MaxSteps: maxSteps,
		Rand:     rand.New(rand.NewSource(5)),
		Output:   out,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("env.New: %v", err)
	}
	return e
}

func runeKey(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m playModel, key tea.KeyMsg) (playModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(key)
	pm, ok := next.(playModel)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return pm, cmd
}

func TestPlayModel_FirstMoveIntoTailTerminates(t *testing.T) {
	m := newPlayModel(newTestEnv(t, 3, io.Discard, nil))

	m, _ = press(t, m, runeKey("a"))
	if !m.done {
		t.Fatalf("expected termination, view:\n%s", m.View())
	}
	view := m.View()
	if !strings.Contains(view, "Terminated (self_collision)") {
		t.Fatalf("view missing termination line:\n%s", view)
	}
	if !strings.Contains(view, "Total reward: 0") {
		t.Fatalf("view missing total:\n%s", view)
	}

	// Moves are ignored until reset.
	m, _ = press(t, m, runeKey("d"))
	if got := m.env.Episode().Steps; got != 1 {
		t.Fatalf("steps after ignored move = %d", got)
	}

	m, _ = press(t, m, runeKey("r"))
	if m.done || m.episodes != 2 || m.env.Episode().Steps != 0 {
		t.Fatalf("reset failed: done=%v episodes=%d steps=%d", m.done, m.episodes, m.env.Episode().Steps)
	}
	if m.finished != 1 || m.best != 0 {
		t.Fatalf("finished=%d best=%d", m.finished, m.best)
	}
}

func TestPlayModel_ArrowKeysAndUnknownKeys(t *testing.T) {
	m := newPlayModel(newTestEnv(t, 3, io.Discard, nil))

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyRight})
	if m.done || m.env.Episode().Steps != 1 || m.lastMove != "Right" {
		t.Fatalf("after right: done=%v steps=%d move=%q\n%s", m.done, m.env.Episode().Steps, m.lastMove, m.View())
	}
	if head := m.env.State().Head(); head != 5 {
		t.Fatalf("head=%d want 5", head)
	}

	m, _ = press(t, m, runeKey("x"))
	if !strings.Contains(m.message, "unknown key") || m.env.Episode().Steps != 1 {
		t.Fatalf("unknown key handled badly: %q steps=%d", m.message, m.env.Episode().Steps)
	}

	if _, cmd := press(t, m, runeKey("q")); cmd == nil {
		t.Fatalf("q should quit")
	}
}

func TestRollout_RendersEveryStep(t *testing.T) {
	var out bytes.Buffer
	e := newTestEnv(t, 4, &out, env.MaxSteps(25))

	ep, err := rollout(context.Background(), e, policy.Greedy{}, true, 0)
	if err != nil {
		t.Fatalf("rollout: %v", err)
	}
	if !ep.Terminated {
		t.Fatalf("episode not terminated: %+v", ep)
	}
	if ep.Steps > 26 {
		t.Fatalf("ran %d steps with a 25 step limit", ep.Steps)
	}
	// One frame for the reset board plus one per step.
	if frames := strings.Count(out.String(), "------\n") / 2; frames != ep.Steps+1 {
		t.Fatalf("rendered %d frames for %d steps", frames, ep.Steps)
	}
}

func TestRollout_Cancelled(t *testing.T) {
	e := newTestEnv(t, 6, io.Discard, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := rollout(ctx, e, policy.NewRandom(1), true, time.Second); err == nil {
		// The first random move may end the episode before the delay.
		if !e.Episode().Terminated {
			t.Fatalf("expected cancellation or a finished episode")
		}
	}
}

func TestRootCmd_Rollout(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"rollout", "--grid-dim", "5", "--max-steps", "30", "--episodes", "2", "--seed", "3", "--render=false", "--log-level", "error"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "Episode 1:") || !strings.Contains(got, "Episode 2:") {
		t.Fatalf("unexpected output:\n%s", got)
	}
	if strings.Contains(got, "------") {
		t.Fatalf("board rendered with --render=false:\n%s", got)
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()
	want := map[string]bool{"play": false, "rollout": false, "selfplay": false, "serve": false, "stats": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("missing subcommand %s", name)
		}
	}
}

func TestRootCmd_BadGridDim(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"rollout", "--grid-dim", "1", "--render=false"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected configuration error")
	}
}

func TestEnvDefaults(t *testing.T) {
	t.Setenv("SNEK_GRID_DIM", "12")
	t.Setenv("SNEK_LOG_FORMAT", "json")
	t.Setenv("SNEK_WORKERS", "not-a-number")
	t.Setenv("SNEK_RENDER_DELAY", "250ms")

	if got := getEnvIntOrDefault("SNEK_GRID_DIM", 8); got != 12 {
		t.Fatalf("grid dim %d", got)
	}
	if got := getEnvIntOrDefault("SNEK_WORKERS", 8); got != 8 {
		t.Fatalf("workers %d", got)
	}
	if got := getEnvOrDefault("SNEK_LOG_FORMAT", "text"); got != "json" {
		t.Fatalf("log format %q", got)
	}
	if got := getEnvOrDefault("SNEK_UNSET_FOR_TEST", "x"); got != "x" {
		t.Fatalf("unset %q", got)
	}
	if got := getEnvDurationOrDefault("SNEK_RENDER_DELAY", time.Second); got != 250*time.Millisecond {
		t.Fatalf("delay %s", got)
	}

	cmd := newRootCmd()
	f := cmd.PersistentFlags().Lookup("grid-dim")
	if f == nil || f.DefValue != "12" {
		t.Fatalf("grid-dim default not read from env: %+v", f)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a, ,b ,c,")
	if strings.Join(got, "|") != "a|b|c" {
		t.Fatalf("splitList = %q", got)
	}
	if len(splitList("")) != 0 {
		t.Fatalf("empty input")
	}
}
