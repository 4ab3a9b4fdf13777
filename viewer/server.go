// Package viewer serves live episodes over websockets and archive stats over
// HTTP.
package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brensch/snekgym/env"
	"github.com/brensch/snekgym/game"
	"github.com/brensch/snekgym/policy"
)

const (
	maxDim   = 32
	maxDelay = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Frame is one websocket message: the board after a step, or after reset
// when Step is 0.
type Frame struct {
	Step       int     `json:"step"`
	Dim        int     `json:"dim"`
	Grid       []int32 `json:"grid"`
	Action     string  `json:"action,omitempty"`
	Reward     int     `json:"reward"`
	Total      int     `json:"total"`
	Apples     int     `json:"apples"`
	Terminated bool    `json:"terminated"`
	StepLimit  bool    `json:"step_limit,omitempty"`
	Outcome    string  `json:"outcome,omitempty"`
	Text       string  `json:"text"`
}

type Options struct {
	// Roots are directories holding parquet batches for /api/stats.
	Roots      []string
	ModelPath  string
	DefaultDim int
	// MaxSteps caps streamed episodes unless the request sets max_steps.
	MaxSteps int
	Logger   *slog.Logger
}

type Server struct {
	opts    Options
	dbCache *DBCache
	log     *slog.Logger
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultDim < game.MinDim {
		opts.DefaultDim = 8
	}
	return &Server{
		opts:    opts,
		dbCache: NewDBCache(opts.Roots, 30*time.Second, opts.Logger),
		log:     opts.Logger,
	}
}

// RegisterRoutes sets up all routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/episode", s.handleEpisode)
	mux.HandleFunc("/api/stats", s.handleStats)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) Close() error {
	return s.dbCache.Close()
}

type episodeRequest struct {
	policy   string
	dim      int
	delay    time.Duration
	maxSteps int
	seed     int64
	seeded   bool
}

func (s *Server) parseEpisodeRequest(r *http.Request) (episodeRequest, error) {
	q := r.URL.Query()
	req := episodeRequest{
		policy:   strings.TrimSpace(q.Get("policy")),
		dim:      s.opts.DefaultDim,
		delay:    100 * time.Millisecond,
		maxSteps: s.opts.MaxSteps,
	}
	if req.policy == "" {
		req.policy = policy.NameGreedy
	}
	if v := q.Get("dim"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < game.MinDim || n > maxDim {
			return req, fmt.Errorf("dim must be between %d and %d", game.MinDim, maxDim)
		}
		req.dim = n
	}
	if v := q.Get("delay"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 || d > maxDelay {
			return req, fmt.Errorf("delay must be a duration between 0 and %s", maxDelay)
		}
		req.delay = d
	}
	if v := q.Get("max_steps"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return req, fmt.Errorf("max_steps must be positive")
		}
		req.maxSteps = n
	}
	if v := q.Get("seed"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, fmt.Errorf("bad seed: %w", err)
		}
		req.seed, req.seeded = n, true
	}
	return req, nil
}

func (s *Server) handleEpisode(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseEpisodeRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cfg := env.Config{GridDim: req.dim, Logger: s.log}
	if req.maxSteps > 0 {
		cfg.MaxSteps = env.MaxSteps(req.maxSteps)
	}
	if req.seeded {
		cfg.Rand = rand.New(rand.NewSource(req.seed))
	}
	e, err := env.New(cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := policy.New(req.policy, policy.Options{Seed: req.seed, ModelPath: s.opts.ModelPath})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if c, ok := p.(interface{ Close() error }); ok {
		defer c.Close()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Reads are only needed to notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log := s.log.With("policy", p.Name(), "dim", req.dim)
	log.Info("episode stream started")

	if err := s.streamEpisode(ctx, conn, e, p, req.delay); err != nil {
		if ctx.Err() == nil {
			log.Warn("episode stream failed", "err", err)
		}
		return
	}

	ep := e.Episode()
	log.Info("episode stream finished", "steps", ep.Steps, "total_reward", ep.TotalReward, "outcome", ep.Outcome.String())
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "episode over"),
		time.Now().Add(time.Second))
}

func (s *Server) streamEpisode(ctx context.Context, conn *websocket.Conn, e *env.Env, p policy.Policy, delay time.Duration) error {
	obs := e.Reset()
	if err := writeFrame(conn, e, obs, game.MoveNone, 0); err != nil {
		return err
	}

	for {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		m, err := p.Act(ctx, obs, e.GridDim())
		if err != nil {
			return err
		}
		next, reward, done, _, err := e.Step(m)
		if err != nil {
			return err
		}
		if err := writeFrame(conn, e, next, m, reward); err != nil {
			return err
		}
		if done {
			return nil
		}
		obs = next
	}
}

func writeFrame(conn *websocket.Conn, e *env.Env, obs []int32, m game.Move, reward int) error {
	ep := e.Episode()
	f := Frame{
		Step:       ep.Steps,
		Dim:        e.GridDim(),
		Grid:       obs,
		Reward:     reward,
		Total:      ep.TotalReward,
		Apples:     ep.ApplesEaten,
		Terminated: ep.Terminated,
		StepLimit:  ep.StepLimit,
		Text:       e.State().String(),
	}
	if m != game.MoveNone {
		f.Action = m.String()
		f.Outcome = ep.Outcome.String()
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(f)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	withCORS(w, r)
	if r.Method == http.MethodOptions {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := s.dbCache.QueryStats(r.Context())
	if err != nil {
		s.log.Error("stats query failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func withCORS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}
