package viewer

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brensch/snekgym/store"
)

func newTestServer(t *testing.T, roots ...string) *httptest.Server {
	t.Helper()
	s := NewServer(Options{
		Roots:  roots,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = s.Close()
	})
	return ts
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestEpisodeStream_PlaysToTermination(t *testing.T) {
	ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/episode?policy=greedy&dim=4&delay=0s&seed=7&max_steps=40"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var frames []Frame
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("read after %d frames: %v", len(frames), err)
			}
			break
		}
		frames = append(frames, f)
	}

	if len(frames) < 2 {
		t.Fatalf("got %d frames", len(frames))
	}
	first := frames[0]
	if first.Step != 0 || first.Dim != 4 || len(first.Grid) != 16 || first.Terminated {
		t.Fatalf("bad first frame: %+v", first)
	}
	if !strings.HasPrefix(first.Text, "------\n") {
		t.Fatalf("first frame text:\n%s", first.Text)
	}

	total := 0
	for i, f := range frames[1:] {
		if f.Step != i+1 {
			t.Fatalf("frame %d has step %d", i+1, f.Step)
		}
		if f.Action == "" || f.Outcome == "" {
			t.Fatalf("frame %d missing action/outcome: %+v", i+1, f)
		}
		total += f.Reward
		if f.Total != total {
			t.Fatalf("frame %d total=%d want %d", i+1, f.Total, total)
		}
		if f.Terminated != (i+1 == len(frames)-1) {
			t.Fatalf("frame %d terminated=%v", i+1, f.Terminated)
		}
	}
	if last := frames[len(frames)-1]; last.Step > 41 {
		t.Fatalf("episode ran %d steps with max_steps=40", last.Step)
	}
}

func TestEpisodeStream_BadParams(t *testing.T) {
	ts := newTestServer(t)

	for _, q := range []string{"dim=1", "dim=abc", "delay=forever", "policy=nope", "max_steps=0", "policy=onnx"} {
		resp, err := http.Get(ts.URL + "/ws/episode?" + q)
		if err != nil {
			t.Fatalf("%s: %v", q, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestStats_Empty(t *testing.T) {
	ts := newTestServer(t, t.TempDir())

	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var stats Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Files != 0 || stats.Episodes != 0 || len(stats.Policies) != 0 {
		t.Fatalf("expected empty stats, got %+v", stats)
	}
}

func TestStats_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/api/stats", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestStats_Archive(t *testing.T) {
	if testing.Short() {
		t.Skip("duckdb in -short")
	}
	dir := t.TempDir()

	obs := make([]int32, 9)
	rows := []store.TransitionRow{
		{EpisodeID: "a", Step: 0, GridDim: 3, Observation: obs, Action: 3, Reward: 2, Outcome: "ate", Return: 1, Policy: "greedy"},
		{EpisodeID: "a", Step: 1, GridDim: 3, Observation: obs, Action: 3, Reward: -1, Terminated: true, Outcome: "wall", Return: 1, Policy: "greedy"},
		{EpisodeID: "b", Step: 0, GridDim: 3, Observation: obs, Action: 0, Reward: 0, Outcome: "moved", Return: 0, Policy: "random"},
		{EpisodeID: "b", Step: 1, GridDim: 3, Observation: obs, Action: 0, Reward: 0, Outcome: "moved", Return: 0, Policy: "random"},
		{EpisodeID: "b", Step: 2, GridDim: 3, Observation: obs, Action: 1, Reward: 0, Terminated: true, Outcome: "self_collision", Return: 0, Policy: "random"},
	}
	if _, err := store.WriteBatchParquetAtomic(dir, rows); err != nil {
		t.Fatalf("write: %v", err)
	}

	ts := newTestServer(t, dir)
	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var stats Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	t.Logf("stats: %+v", stats)

	if stats.Files != 1 || stats.Transitions != 5 || stats.Episodes != 2 {
		t.Fatalf("counts: %+v", stats)
	}
	if stats.Outcomes["wall"] != 1 || stats.Outcomes["self_collision"] != 1 || len(stats.Outcomes) != 2 {
		t.Fatalf("outcomes: %v", stats.Outcomes)
	}
	if len(stats.Policies) != 2 {
		t.Fatalf("policies: %+v", stats.Policies)
	}
	g, r := stats.Policies[0], stats.Policies[1]
	if g.Policy != "greedy" || g.Episodes != 1 || g.MaxReturn != 1 || g.MeanLength != 2 || g.MeanApples != 1 {
		t.Fatalf("greedy: %+v", g)
	}
	if r.Policy != "random" || r.MeanLength != 3 || r.MeanApples != 0 {
		t.Fatalf("random: %+v", r)
	}
}
