package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/brensch/snekgym/policy"
	"github.com/brensch/snekgym/selfplay"
)

func newSelfplayCmd(opts *globalOptions) *cobra.Command {
	var (
		policyName       string
		outDir           string
		logPath          string
		workers          int
		maxEpisodes      int64
		episodesPerFlush int
		seed             int64
		validate         bool
		tui              bool
	)
	cmd := &cobra.Command{
		Use:   "selfplay",
		Short: "Play episodes on a worker pool and archive every transition to parquet",
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(sigCtx)
			defer cancel()

			logOut := os.Stderr
			if tui {
				// Keep the progress view readable.
				f, err := os.OpenFile("selfplay.log", os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
				if err != nil {
					return fmt.Errorf("open log file: %w", err)
				}
				defer f.Close()
				logOut = f
			}
			log, err := opts.logger(logOut)
			if err != nil {
				return err
			}

			newPolicy := func(workerID int) (policy.Policy, error) {
				return policy.New(policyName, policy.Options{Seed: seed + int64(workerID), ModelPath: opts.model})
			}
			if policyName == policy.NameOnnx {
				// One shared model so concurrent workers fill inference batches.
				shared, err := policy.NewOnnx(opts.model, policy.OnnxConfig{BatchSize: workers})
				if err != nil {
					return err
				}
				defer shared.Close()
				newPolicy = func(int) (policy.Policy, error) { return shared, nil }
			}

			updates := make(chan selfplay.EpisodeResult, workers)
			runner, err := selfplay.NewRunner(selfplay.Config{
				GridDim:          opts.gridDim,
				MaxSteps:         opts.maxStepsPtr(),
				Workers:          workers,
				MaxEpisodes:      maxEpisodes,
				EpisodesPerFlush: episodesPerFlush,
				OutDir:           outDir,
				EpisodeLogPath:   logPath,
				Seed:             seed,
				NewPolicy:        newPolicy,
				Logger:           log,
				Validate:         validate,
				Updates:          updates,
			})
			if err != nil {
				return err
			}

			type runResult struct {
				summary selfplay.Summary
				err     error
			}
			done := make(chan runResult, 1)
			go func() {
				s, err := runner.Run(ctx)
				done <- runResult{s, err}
			}()

			if tui {
				p := tea.NewProgram(newProgressModel(runner, updates), tea.WithAltScreen())
				finished := make(chan runResult, 1)
				go func() {
					res := <-done
					finished <- res
					p.Send(runFinishedMsg{summary: res.summary, err: res.err})
				}()
				if _, err := p.Run(); err != nil {
					cancel()
					<-finished
					return err
				}
				// Quitting the view early stops the workers; the run still flushes.
				cancel()
				res := <-finished
				fmt.Fprintf(cmd.OutOrStdout(), "Episodes: %d  Steps: %d  Batches: %d  Rows: %d\n",
					res.summary.Episodes, res.summary.Steps, res.summary.Batches, res.summary.Rows)
				return res.err
			}

			log.Info("selfplay started", "workers", workers, "policy", policyName, "grid_dim", opts.gridDim, "out_dir", outDir)
			startTime := time.Now()
			ticker := time.NewTicker(5 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case res := <-done:
					return res.err
				case u := <-updates:
					log.Debug("episode", "worker", u.WorkerID, "steps", u.Steps, "return", u.Return, "outcome", u.Outcome)
				case <-ticker.C:
					episodes, steps := runner.Stats()
					secs := time.Since(startTime).Seconds()
					log.Info("progress",
						"episodes", episodes,
						"steps", steps,
						"episodes_per_sec", strconv.FormatFloat(float64(episodes)/secs, 'f', 2, 64),
						"steps_per_sec", strconv.FormatFloat(float64(steps)/secs, 'f', 2, 64),
					)
				}
			}
		},
	}
	f := cmd.Flags()
	f.StringVar(&policyName, "policy", policy.NameGreedy, "Policy: random, greedy or onnx")
	f.StringVar(&outDir, "out-dir", getEnvOrDefault("SNEK_OUT_DIR", "data/episodes"), "Directory for parquet batches")
	f.StringVar(&logPath, "episode-log", "", "Append-only log of archived episode IDs (default <out-dir>/episodes.log)")
	f.IntVar(&workers, "workers", getEnvIntOrDefault("SNEK_WORKERS", 8), "Number of workers, each with its own environment")
	f.Int64Var(&maxEpisodes, "max-episodes", 0, "Stop after this many episodes (0 = until interrupted)")
	f.IntVar(&episodesPerFlush, "episodes-per-flush", 50, "Episodes to buffer per parquet file")
	f.Int64Var(&seed, "seed", time.Now().UnixNano(), "Base seed for apples and random policies")
	f.BoolVar(&validate, "validate", false, "Check board invariants after every step")
	f.BoolVar(&tui, "tui", false, "Show a live progress view instead of log lines")
	return cmd
}
