// Package selfplay plays many episodes in parallel with a policy and
// archives every transition to Parquet.
package selfplay

import (
	"context"
	"fmt"
	"time"

	"github.com/brensch/snekgym/env"
	"github.com/brensch/snekgym/policy"
	"github.com/brensch/snekgym/store"
)

// EpisodeResult summarises one finished episode.
type EpisodeResult struct {
	EpisodeID   string
	WorkerID    int
	Steps       int
	ApplesEaten int
	Return      int
	Outcome     string
	StepLimit   bool
}

// PlayEpisode resets e and plays it to termination with p. The returned rows
// have Return filled in. If ctx is cancelled the partial episode is dropped.
func PlayEpisode(ctx context.Context, e *env.Env, p policy.Policy, episodeID string) ([]store.TransitionRow, EpisodeResult, error) {
	return playEpisode(ctx, e, p, episodeID, false)
}

func playEpisode(ctx context.Context, e *env.Env, p policy.Policy, episodeID string, validate bool) ([]store.TransitionRow, EpisodeResult, error) {
	obs := e.Reset()
	dim := e.GridDim()
	createdNs := time.Now().UnixNano()
	rows := make([]store.TransitionRow, 0, 64)

	for {
		if err := ctx.Err(); err != nil {
			return nil, EpisodeResult{EpisodeID: episodeID}, err
		}

		m, err := p.Act(ctx, obs, dim)
		if err != nil {
			return nil, EpisodeResult{EpisodeID: episodeID}, fmt.Errorf("policy %s: %w", p.Name(), err)
		}
		next, reward, done, _, err := e.Step(m)
		if err != nil {
			return nil, EpisodeResult{EpisodeID: episodeID}, fmt.Errorf("step %d: %w", len(rows), err)
		}

		rows = append(rows, store.TransitionRow{
			EpisodeID:   episodeID,
			Step:        int32(len(rows)),
			GridDim:     int32(dim),
			Observation: obs,
			Action:      int32(m),
			Reward:      int32(reward),
			Terminated:  done,
			Outcome:     e.Outcome().String(),
			Policy:      p.Name(),
			CreatedNs:   createdNs,
		})
		obs = next

		if validate {
			if err := e.State().Validate(); err != nil {
				return nil, EpisodeResult{EpisodeID: episodeID}, fmt.Errorf("after step %d (%s): %w", len(rows)-1, m, err)
			}
		}

		if done {
			break
		}
	}

	ep := e.Episode()
	for i := range rows {
		rows[i].Return = int32(ep.TotalReward)
	}
	return rows, EpisodeResult{
		EpisodeID:   episodeID,
		Steps:       ep.Steps,
		ApplesEaten: ep.ApplesEaten,
		Return:      ep.TotalReward,
		Outcome:     ep.Outcome.String(),
		StepLimit:   ep.StepLimit,
	}, nil
}
