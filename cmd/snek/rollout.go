package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/snekgym/env"
	"github.com/brensch/snekgym/policy"
)

func newRolloutCmd(opts *globalOptions) *cobra.Command {
	var (
		policyName string
		episodes   int
		seed       int64
		delay      time.Duration
		render     bool
	)
	cmd := &cobra.Command{
		Use:   "rollout",
		Short: "Let a policy play episodes in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log, err := opts.logger(os.Stderr)
			if err != nil {
				return err
			}
			cfg := env.Config{
				GridDim:  opts.gridDim,
				MaxSteps: opts.maxStepsPtr(),
				Output:   cmd.OutOrStdout(),
				Logger:   log,
			}
			if cmd.Flags().Changed("seed") {
				cfg.Rand = rand.New(rand.NewSource(seed))
			}
			e, err := env.New(cfg)
			if err != nil {
				return err
			}
			p, err := policy.New(policyName, policy.Options{Seed: seed, ModelPath: opts.model})
			if err != nil {
				return err
			}
			if c, ok := p.(interface{ Close() error }); ok {
				defer c.Close()
			}

			for i := 0; i < episodes; i++ {
				ep, err := rollout(ctx, e, p, render, delay)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Episode %d: steps=%d apples=%d total_reward=%d outcome=%s step_limit=%v\n",
					i+1, ep.Steps, ep.ApplesEaten, ep.TotalReward, ep.Outcome, ep.StepLimit)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&policyName, "policy", policy.NameGreedy, "Policy: random, greedy or onnx")
	cmd.Flags().IntVar(&episodes, "episodes", 1, "Number of episodes to play")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Seed for apples and the random policy (unset = clock)")
	cmd.Flags().DurationVar(&delay, "delay", getEnvDurationOrDefault("SNEK_RENDER_DELAY", 150*time.Millisecond), "Pause between rendered steps")
	cmd.Flags().BoolVar(&render, "render", true, "Render the board after every step")
	return cmd
}

// rollout plays e to termination with p, rendering each board if asked.
func rollout(ctx context.Context, e *env.Env, p policy.Policy, render bool, delay time.Duration) (env.Episode, error) {
	obs := e.Reset()
	if render {
		if err := e.Render(); err != nil {
			return env.Episode{}, err
		}
	}
	for {
		m, err := p.Act(ctx, obs, e.GridDim())
		if err != nil {
			return env.Episode{}, err
		}
		next, _, done, _, err := e.Step(m)
		if err != nil {
			return env.Episode{}, err
		}
		if render {
			if err := e.Render(); err != nil {
				return env.Episode{}, err
			}
			if delay > 0 && !done {
				select {
				case <-ctx.Done():
					return env.Episode{}, ctx.Err()
				case <-time.After(delay):
				}
			}
		}
		if done {
			return e.Episode(), nil
		}
		obs = next
	}
}
