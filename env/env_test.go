package env

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/brensch/snekgym/game"
	"github.com/brensch/snekgym/rules"
)

func newTestEnv(t *testing.T, dim int, maxSteps *int, seed int64) (*Env, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	e, err := New(Config{
		GridDim:  dim,
		MaxSteps: maxSteps,
		Rand:     rand.New(rand.NewSource(seed)),
		Output:   &out,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, &out
}

func mustStep(t *testing.T, e *Env, m game.Move) (int, bool) {
	t.Helper()
	_, reward, done, info, err := e.Step(m)
	if err != nil {
		t.Fatalf("Step(%v): %v", m, err)
	}
	if info == nil || len(info) != 0 {
		t.Fatalf("info=%v want empty map", info)
	}
	return reward, done
}

func TestNew_ConfigurationErrors(t *testing.T) {
	cases := []Config{
		{GridDim: 1},
		{GridDim: 0},
		{GridDim: -4},
		{GridDim: 5, MaxSteps: MaxSteps(0)},
		{GridDim: 5, MaxSteps: MaxSteps(-1)},
	}
	for _, cfg := range cases {
		if _, err := New(cfg); !errors.Is(err, ErrConfiguration) {
			t.Fatalf("New(%+v) err=%v want ErrConfiguration", cfg, err)
		}
	}
	if _, err := New(Config{GridDim: 2}); err != nil {
		t.Fatalf("New(dim=2): %v", err)
	}
}

func TestStep_BeforeReset(t *testing.T) {
	e, _ := newTestEnv(t, 5, nil, 1)
	if _, _, _, _, err := e.Step(rules.MoveUp); !errors.Is(err, ErrNotReset) {
		t.Fatalf("err=%v want ErrNotReset", err)
	}
	if err := e.Render(); !errors.Is(err, ErrNotReset) {
		t.Fatalf("render err=%v want ErrNotReset", err)
	}
	if e.State() != nil {
		t.Fatalf("State before reset should be nil")
	}
}

func TestStep_InvalidActionHasNoEffect(t *testing.T) {
	e, _ := newTestEnv(t, 5, nil, 2)
	e.Reset()
	before := e.State()
	for _, m := range []game.Move{game.MoveNone, 4, 9, -7} {
		if _, _, _, _, err := e.Step(m); !errors.Is(err, ErrInvalidAction) {
			t.Fatalf("Step(%d) err=%v want ErrInvalidAction", m, err)
		}
	}
	after := e.State()
	if after.Steps() != before.Steps() || !reflect.DeepEqual(after.Observation(), before.Observation()) {
		t.Fatalf("invalid action mutated state")
	}
}

func TestReset_ReturnsInitialObservation(t *testing.T) {
	e, _ := newTestEnv(t, 5, nil, 3)
	obs := e.Reset()
	if len(obs) != 25 {
		t.Fatalf("len=%d want 25", len(obs))
	}
	if obs[12] != int32(game.Head) || obs[11] != int32(game.Tail) {
		t.Fatalf("obs head=%d tail=%d", obs[12], obs[11])
	}
	apples := 0
	for _, v := range obs {
		if v == int32(game.Apple) {
			apples++
		}
	}
	if apples != 1 {
		t.Fatalf("apples=%d want 1", apples)
	}
}

func TestScenario_WallCollision(t *testing.T) {
	e, _ := newTestEnv(t, 5, nil, 4)
	e.Reset()
	if err := e.state.SetApple(24); err != nil {
		t.Fatal(err)
	}
	var reward int
	var done bool
	for i := 0; i < 5 && !done; i++ {
		reward, done = mustStep(t, e, rules.MoveUp)
	}
	if !done || reward != -1 {
		t.Fatalf("reward=%d done=%v want -1 true", reward, done)
	}
	if e.Outcome() != rules.OutcomeWall {
		t.Fatalf("outcome=%v want wall", e.Outcome())
	}
}

func TestScenario_ImmediateReversal(t *testing.T) {
	e, _ := newTestEnv(t, 5, nil, 5)
	e.Reset()
	_ = e.state.SetApple(0)

	if _, done := mustStep(t, e, rules.MoveRight); done {
		t.Fatalf("first Right terminated")
	}
	reward, done := mustStep(t, e, rules.MoveLeft)
	if reward != -1 || !done {
		t.Fatalf("reward=%d done=%v want -1 true", reward, done)
	}
}

func TestScenario_AppleGrowth(t *testing.T) {
	e, _ := newTestEnv(t, 5, nil, 6)
	e.Reset()
	if err := e.state.SetApple(13); err != nil {
		t.Fatal(err)
	}
	before := e.State().Len()
	reward, done := mustStep(t, e, rules.MoveRight)
	if reward != 2 || done {
		t.Fatalf("reward=%d done=%v want 2 false", reward, done)
	}
	st := e.State()
	if st.Len() != before+1 {
		t.Fatalf("len=%d want %d", st.Len(), before+1)
	}
	if _, ok := st.Apple(); !ok {
		t.Fatalf("no apple after eating")
	}
	if ep := e.Episode(); ep.ApplesEaten != 1 || ep.TotalReward != 2 || ep.Steps != 1 {
		t.Fatalf("episode=%+v", ep)
	}
}

func TestScenario_FullBoardWin(t *testing.T) {
	e, _ := newTestEnv(t, 4, nil, 7)
	e.Reset()
	if err := e.state.SetApplesEaten(e.state.MaxApples() - 1); err != nil {
		t.Fatal(err)
	}
	// Head 10; eat to the right.
	if err := e.state.SetApple(11); err != nil {
		t.Fatal(err)
	}
	reward, done := mustStep(t, e, rules.MoveRight)
	if reward != 2 || !done {
		t.Fatalf("reward=%d done=%v want 2 true", reward, done)
	}
	if _, ok := e.State().Apple(); ok {
		t.Fatalf("apple placed after the final one")
	}
	if e.Outcome() != rules.OutcomeBoardFull {
		t.Fatalf("outcome=%v", e.Outcome())
	}
}

func TestStep_AfterTermination(t *testing.T) {
	e, _ := newTestEnv(t, 5, nil, 8)
	e.Reset()
	_ = e.state.SetApple(0)
	mustStep(t, e, rules.MoveRight)
	if _, done := mustStep(t, e, rules.MoveLeft); !done {
		t.Fatalf("reversal did not terminate")
	}
	if _, _, _, _, err := e.Step(rules.MoveUp); !errors.Is(err, ErrEpisodeOver) {
		t.Fatalf("err=%v want ErrEpisodeOver", err)
	}

	e.Reset()
	if ep := e.Episode(); ep.Steps != 0 || ep.Terminated || ep.TotalReward != 0 {
		t.Fatalf("episode not reset: %+v", ep)
	}
	if _, _, _, _, err := e.Step(rules.MoveUp); err != nil {
		t.Fatalf("step after reset: %v", err)
	}
}

func TestEpisodeLengthBound(t *testing.T) {
	for _, k := range []int{1, 2, 5, 17} {
		e, _ := newTestEnv(t, 5, MaxSteps(k), int64(k))
		e.Reset()
		_ = e.state.SetApple(0)
		loop := []game.Move{rules.MoveRight, rules.MoveDown, rules.MoveLeft, rules.MoveUp}
		calls := 0
		for {
			calls++
			_, done := mustStep(t, e, loop[(calls-1)%4])
			if done {
				break
			}
			if calls > k+1 {
				t.Fatalf("k=%d still running after %d calls", k, calls)
			}
		}
		if calls != k+1 {
			t.Fatalf("k=%d terminated after %d calls want %d", k, calls, k+1)
		}
		if !e.Episode().StepLimit {
			t.Fatalf("k=%d step limit not flagged", k)
		}
	}
}

func TestRender_WritesBorderedGrid(t *testing.T) {
	e, out := newTestEnv(t, 3, nil, 9)
	e.Reset()
	_ = e.state.SetApple(8)
	if err := e.Render(); err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "-----\n|   |\n|TH |\n|  A|\n-----\n"
	if out.String() != want {
		t.Fatalf("render:\n%s\nwant:\n%s", out.String(), want)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("lines=%d want 5", len(lines))
	}
}

func TestSeededEnvsAreReproducible(t *testing.T) {
	a, _ := newTestEnv(t, 6, nil, 42)
	b, _ := newTestEnv(t, 6, nil, 42)
	if !reflect.DeepEqual(a.Reset(), b.Reset()) {
		t.Fatalf("same seed produced different initial boards")
	}
	moves := []game.Move{rules.MoveUp, rules.MoveRight, rules.MoveRight, rules.MoveDown, rules.MoveDown}
	for _, m := range moves {
		oa, ra, da, _, _ := a.Step(m)
		ob, rb, db, _, _ := b.Step(m)
		if !reflect.DeepEqual(oa, ob) || ra != rb || da != db {
			t.Fatalf("diverged on %v", m)
		}
		if da {
			break
		}
	}
}
