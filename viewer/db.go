package viewer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/brensch/snekgym/store"
)

// DBCache keeps an in-memory DuckDB connection with a `transitions` view over
// every batch under roots. The view is rebuilt once refreshRate has passed so
// newly flushed batches show up.
type DBCache struct {
	roots       []string
	refreshRate time.Duration
	log         *slog.Logger

	mu          sync.Mutex
	db          *sql.DB
	files       int
	lastRefresh time.Time
}

func NewDBCache(roots []string, refreshRate time.Duration, log *slog.Logger) *DBCache {
	if log == nil {
		log = slog.Default()
	}
	return &DBCache{roots: roots, refreshRate: refreshRate, log: log}
}

// Get returns the connection and the number of batch files behind the view.
// A nil db with zero files means there is nothing archived yet.
func (c *DBCache) Get() (*sql.DB, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastRefresh) < c.refreshRate && !c.lastRefresh.IsZero() {
		return c.db, c.files, nil
	}
	return c.refreshLocked()
}

func (c *DBCache) refreshLocked() (*sql.DB, int, error) {
	start := time.Now()

	var files []string
	for _, root := range c.roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		matches, err := store.ListBatches(root)
		if err != nil {
			return nil, 0, fmt.Errorf("list batches in %s: %w", root, err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	if c.db != nil {
		_ = c.db.Close()
		c.db = nil
	}
	c.files = len(files)
	c.lastRefresh = time.Now()
	if len(files) == 0 {
		return nil, 0, nil
	}

	db, err := openDuckDB(files)
	if err != nil {
		c.lastRefresh = time.Time{}
		return nil, 0, err
	}
	c.db = db
	c.log.Debug("duckdb view refreshed", "files", len(files), "took", time.Since(start))
	return c.db, c.files, nil
}

func (c *DBCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	c.lastRefresh = time.Time{}
	return err
}

func openDuckDB(files []string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, err
	}
	// Ignore errors for compatibility across versions.
	_, _ = db.Exec("PRAGMA threads=4")

	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = "'" + escapeSQLString(f) + "'"
	}
	sqlText := `CREATE OR REPLACE VIEW transitions AS
		SELECT * FROM read_parquet([` + strings.Join(quoted, ",") + `], union_by_name=true)`
	if _, err := db.Exec(sqlText); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Stats summarises the archive.
type Stats struct {
	Files       int              `json:"files"`
	Transitions int64            `json:"transitions"`
	Episodes    int64            `json:"episodes"`
	Outcomes    map[string]int64 `json:"outcomes"`
	Policies    []PolicyStats    `json:"policies"`
}

// PolicyStats aggregates finished episodes per policy.
type PolicyStats struct {
	Policy     string  `json:"policy"`
	Episodes   int64   `json:"episodes"`
	MeanReturn float64 `json:"mean_return"`
	MaxReturn  int64   `json:"max_return"`
	MeanLength float64 `json:"mean_length"`
	MeanApples float64 `json:"mean_apples"`
}

// QueryStats runs the aggregate queries against the cached view.
func (c *DBCache) QueryStats(ctx context.Context) (Stats, error) {
	db, files, err := c.Get()
	if err != nil {
		return Stats{}, err
	}
	out := Stats{Files: files, Outcomes: map[string]int64{}, Policies: []PolicyStats{}}
	if db == nil {
		return out, nil
	}

	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT episode_id) FROM transitions`,
	).Scan(&out.Transitions, &out.Episodes); err != nil {
		return Stats{}, fmt.Errorf("count transitions: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM transitions WHERE terminated GROUP BY outcome ORDER BY outcome`)
	if err != nil {
		return Stats{}, fmt.Errorf("query outcomes: %w", err)
	}
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			rows.Close()
			return Stats{}, err
		}
		out.Outcomes[outcome] = n
	}
	rows.Close()

	// An apple is the only +2 reward.
	rows, err = db.QueryContext(ctx, `WITH episodes AS (
		SELECT
			episode_id,
			MIN(policy)::VARCHAR AS policy,
			MAX("return")::BIGINT AS ret,
			COUNT(*)::BIGINT AS len,
			SUM(CASE WHEN reward = 2 THEN 1 ELSE 0 END)::BIGINT AS apples
		FROM transitions
		GROUP BY episode_id
	)
	SELECT policy, COUNT(*), AVG(ret)::DOUBLE, MAX(ret), AVG(len)::DOUBLE, AVG(apples)::DOUBLE
	FROM episodes
	GROUP BY policy
	ORDER BY policy`)
	if err != nil {
		return Stats{}, fmt.Errorf("query policies: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p PolicyStats
		if err := rows.Scan(&p.Policy, &p.Episodes, &p.MeanReturn, &p.MaxReturn, &p.MeanLength, &p.MeanApples); err != nil {
			return Stats{}, err
		}
		out.Policies = append(out.Policies, p)
	}
	return out, rows.Err()
}
