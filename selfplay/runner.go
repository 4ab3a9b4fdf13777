package selfplay

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/brensch/snekgym/env"
	"github.com/brensch/snekgym/policy"
	"github.com/brensch/snekgym/store"
)

// Config configures a Runner.
type Config struct {
	GridDim  int
	MaxSteps *int
	Workers  int
	// MaxEpisodes stops the run after this many episodes. 0 runs until ctx ends.
	MaxEpisodes      int64
	EpisodesPerFlush int
	OutDir           string
	// EpisodeLogPath defaults to OutDir/episodes.log.
	EpisodeLogPath string
	// Seed is the base seed; each worker derives its own.
	Seed int64
	// NewPolicy is called once per worker. It may hand every worker the same
	// concurrency-safe policy; the Runner never closes policies.
	NewPolicy func(workerID int) (policy.Policy, error)
	Logger    *slog.Logger
	// Validate checks every board invariant after each step. Slow.
	Validate bool
	// Updates, if set, receives each finished episode. Sends never block.
	Updates chan<- EpisodeResult
}

// Summary is returned when a run ends.
type Summary struct {
	Episodes int64
	Steps    int64
	Batches  int
	Rows     int
}

// Runner plays episodes on a pool of workers. Each worker owns its Env.
type Runner struct {
	cfg Config
	log *slog.Logger

	claimed  atomic.Int64
	episodes atomic.Int64
	steps    atomic.Int64
}

type writeRequest struct {
	episodeID string
	rows      []store.TransitionRow
}

func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.EpisodesPerFlush <= 0 {
		cfg.EpisodesPerFlush = 50
	}
	if cfg.OutDir == "" {
		return nil, fmt.Errorf("out dir is required")
	}
	if cfg.EpisodeLogPath == "" {
		cfg.EpisodeLogPath = filepath.Join(cfg.OutDir, "episodes.log")
	}
	if cfg.NewPolicy == nil {
		cfg.NewPolicy = func(int) (policy.Policy, error) { return policy.Greedy{}, nil }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	// Fail fast on a bad board config rather than in every worker.
	if _, err := env.New(env.Config{GridDim: cfg.GridDim, MaxSteps: cfg.MaxSteps}); err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg, log: cfg.Logger}, nil
}

// Stats returns live counters.
func (r *Runner) Stats() (episodes, steps int64) {
	return r.episodes.Load(), r.steps.Load()
}

// Run blocks until ctx is cancelled or MaxEpisodes episodes are archived,
// then flushes whatever is buffered.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	episodeLog, err := store.OpenEpisodeLog(r.cfg.EpisodeLogPath)
	if err != nil {
		return Summary{}, err
	}
	defer episodeLog.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeReqs := make(chan writeRequest, r.cfg.Workers*4)
	var summary Summary
	writerDone := make(chan struct{})
	go func() {
		summary.Batches, summary.Rows = r.writerLoop(episodeLog, writeReqs)
		close(writerDone)
	}()

	var workerWG sync.WaitGroup
	errs := make(chan error, r.cfg.Workers)
	for i := 0; i < r.cfg.Workers; i++ {
		workerWG.Add(1)
		go func(workerID int) {
			defer workerWG.Done()
			if err := r.worker(ctx, workerID, writeReqs); err != nil {
				errs <- err
				cancel()
			}
		}(i)
	}

	workerWG.Wait()
	close(writeReqs)
	<-writerDone
	close(errs)

	summary.Episodes = r.episodes.Load()
	summary.Steps = r.steps.Load()
	r.log.Info("run complete", "episodes", summary.Episodes, "steps", summary.Steps, "batches", summary.Batches, "rows", summary.Rows)

	for err := range errs {
		return summary, err
	}
	return summary, nil
}

func (r *Runner) worker(ctx context.Context, workerID int, out chan<- writeRequest) error {
	p, err := r.cfg.NewPolicy(workerID)
	if err != nil {
		return fmt.Errorf("worker %d policy: %w", workerID, err)
	}
	seed := r.cfg.Seed + int64(workerID)*1000003
	e, err := env.New(env.Config{
		GridDim:  r.cfg.GridDim,
		MaxSteps: r.cfg.MaxSteps,
		Rand:     rand.New(rand.NewSource(seed)),
		Logger:   r.log.With("worker", workerID),
	})
	if err != nil {
		return err
	}

	log := r.log.With("worker", workerID)
	log.Debug("worker started", "seed", seed, "policy", p.Name())

	for ctx.Err() == nil {
		// Claimed episodes always finish so the cap is exact.
		if r.cfg.MaxEpisodes > 0 && r.claimed.Add(1) > r.cfg.MaxEpisodes {
			return nil
		}

		id := uuid.NewString()
		rows, res, err := playEpisode(ctx, e, p, id, r.cfg.Validate)
		if err != nil {
			if ctx.Err() != nil {
				log.Debug("episode abandoned on shutdown", "episode_id", id)
				return nil
			}
			return fmt.Errorf("worker %d episode %s: %w", workerID, id, err)
		}
		res.WorkerID = workerID

		out <- writeRequest{episodeID: id, rows: rows}
		r.episodes.Add(1)
		r.steps.Add(int64(res.Steps))
		log.Debug("episode finished",
			"episode_id", id,
			"steps", res.Steps,
			"apples", res.ApplesEaten,
			"return", res.Return,
			"outcome", res.Outcome,
		)

		if r.cfg.Updates != nil {
			select {
			case r.cfg.Updates <- res:
			default:
			}
		}
	}
	return nil
}

// writerLoop streams episodes into Parquet batches and records their IDs
// once each file is in place.
func (r *Runner) writerLoop(episodeLog *store.EpisodeLog, in <-chan writeRequest) (batches, rowsWritten int) {
	var bw *store.BatchWriter

	flush := func(reason string) {
		if bw == nil {
			return
		}
		ids, rows := bw.EpisodeIDs(), bw.Rows()
		outPath, err := bw.Finalize()
		bw = nil
		if err != nil {
			r.log.Error("parquet flush failed", "reason", reason, "episodes", len(ids), "rows", rows, "err", err)
			return
		}
		if err := episodeLog.AddMany(ids); err != nil {
			r.log.Warn("episode log append failed", "err", err)
		}
		batches++
		rowsWritten += rows
		r.log.Info("parquet flush ok", "reason", reason, "path", outPath, "episodes", len(ids), "rows", rows)
	}

	for req := range in {
		if len(req.rows) == 0 {
			continue
		}
		if bw == nil {
			var err error
			if bw, err = store.NewBatchWriter(r.cfg.OutDir); err != nil {
				r.log.Error("open parquet batch failed", "episode_id", req.episodeID, "err", err)
				continue
			}
		}
		if err := bw.WriteEpisode(req.episodeID, req.rows); err != nil {
			r.log.Error("parquet write failed; dropping batch", "episodes", bw.Episodes(), "err", err)
			bw.Abort()
			bw = nil
			continue
		}
		if bw.Episodes() >= r.cfg.EpisodesPerFlush {
			flush("full")
		}
	}
	flush("final")
	return batches, rowsWritten
}
