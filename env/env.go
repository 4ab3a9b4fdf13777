// Package env exposes the Snake game as a discrete-time environment with a
// reset/step/render contract. One Env owns one game; callers that play
// games concurrently create one Env per goroutine.
package env

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/brensch/snekgym/game"
	"github.com/brensch/snekgym/rules"
)

// Config configures an Env.
type Config struct {
	// GridDim is the side of the square board. Must be at least 2.
	GridDim int
	// MaxSteps ends the episode once the step counter exceeds it. Nil means unbounded.
	MaxSteps *int
	// Rand drives apple placement. Nil seeds a source from the clock.
	Rand *rand.Rand
	// Output receives Render. Nil means os.Stdout.
	Output io.Writer
	Logger *slog.Logger
}

// MaxSteps is a helper for filling Config.MaxSteps.
func MaxSteps(n int) *int { return &n }

// Info is the diagnostic mapping returned by Step. It is empty unless a
// future extension populates it.
type Info map[string]any

// Episode summarises the running episode.
type Episode struct {
	Steps       int
	ApplesEaten int
	TotalReward int
	LastMove    game.Move
	Outcome     rules.Outcome
	Terminated  bool
	StepLimit   bool
}

// Env is a single Snake environment. It is not safe for concurrent use.
type Env struct {
	cfg   Config
	limit rules.Limit
	state *game.State
	out   io.Writer
	log   *slog.Logger

	started bool
	episode Episode
}

// New validates cfg and allocates the environment. Call Reset before Step.
func New(cfg Config) (*Env, error) {
	if cfg.GridDim < game.MinDim {
		return nil, fmt.Errorf("%w: grid dim %d, need at least %d", ErrConfiguration, cfg.GridDim, game.MinDim)
	}
	limit := rules.Unbounded()
	if cfg.MaxSteps != nil {
		if *cfg.MaxSteps <= 0 {
			return nil, fmt.Errorf("%w: max steps %d must be positive", ErrConfiguration, *cfg.MaxSteps)
		}
		limit = rules.MaxSteps(*cfg.MaxSteps)
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	state, err := game.NewState(cfg.GridDim, cfg.Rand)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return &Env{
		cfg:   cfg,
		limit: limit,
		state: state,
		out:   out,
		log:   logger,
	}, nil
}

func (e *Env) GridDim() int { return e.cfg.GridDim }

// Limit returns the configured step ceiling.
func (e *Env) Limit() rules.Limit { return e.limit }

// Reset discards the current episode, starts a new one and returns its
// first observation.
func (e *Env) Reset() []int32 {
	e.state.Reset()
	e.started = true
	e.episode = Episode{LastMove: game.MoveNone}
	return e.state.Observation()
}

// Step applies one move. Bad moves end the episode through terminated and
// reward; err is only set for misuse, in which case nothing changed.
func (e *Env) Step(m game.Move) (obs []int32, reward int, terminated bool, info Info, err error) {
	if !m.Valid() {
		return nil, 0, false, nil, fmt.Errorf("%w: %d", ErrInvalidAction, int8(m))
	}
	if !e.started {
		return nil, 0, false, nil, ErrNotReset
	}
	if e.episode.Terminated {
		return nil, 0, false, nil, ErrEpisodeOver
	}

	res := rules.Apply(e.state, m, e.limit)

	e.episode.Steps = e.state.Steps()
	e.episode.ApplesEaten = e.state.ApplesEaten()
	e.episode.TotalReward += res.Reward
	e.episode.LastMove = m
	e.episode.Outcome = res.Outcome
	e.episode.Terminated = res.Terminated
	e.episode.StepLimit = res.StepLimit

	if res.Terminated {
		e.log.Debug("episode over",
			"outcome", res.Outcome.String(),
			"step_limit", res.StepLimit,
			"steps", e.episode.Steps,
			"apples", e.episode.ApplesEaten,
			"total_reward", e.episode.TotalReward,
		)
	}

	return e.state.Observation(), res.Reward, res.Terminated, Info{}, nil
}

// Render draws the current board on the configured output.
func (e *Env) Render() error {
	if !e.started {
		return ErrNotReset
	}
	if err := e.state.Render(e.out); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	return nil
}

// Observation returns the current observation without stepping.
func (e *Env) Observation() ([]int32, error) {
	if !e.started {
		return nil, ErrNotReset
	}
	return e.state.Observation(), nil
}

// State returns a copy of the board for inspection.
func (e *Env) State() *game.State {
	if !e.started {
		return nil
	}
	return e.state.Clone()
}

// Episode returns counters for the running episode.
func (e *Env) Episode() Episode { return e.episode }

// Outcome returns the outcome of the last step.
func (e *Env) Outcome() rules.Outcome { return e.episode.Outcome }
