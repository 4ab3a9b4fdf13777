// Package store archives played episodes as Parquet transition batches.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// SchemaTransitionV1 is written into every batch's key/value metadata.
const SchemaTransitionV1 = "snek_transition_v1"

// TransitionRow is one (observation, action, reward) step of an episode.
//
// Observation is the board before Action was taken, one value per cell in
// row-major order: 0=empty, 1=apple, 2=head, 3=tail, 4=body.
// Action is 0=Up, 1=Down, 2=Left, 3=Right.
// Return is the undiscounted total reward of the whole episode, filled in
// once the episode ends.
type TransitionRow struct {
	EpisodeID   string  `parquet:"episode_id,dict"`
	Step        int32   `parquet:"step"`
	GridDim     int32   `parquet:"grid_dim"`
	Observation []int32 `parquet:"observation"`
	Action      int32   `parquet:"action"`
	Reward      int32   `parquet:"reward"`
	Terminated  bool    `parquet:"terminated"`
	Outcome     string  `parquet:"outcome,dict"`
	Return      int32   `parquet:"return"`
	Policy      string  `parquet:"policy,dict"`
	CreatedNs   int64   `parquet:"created_ns"`
}

// WriteBatchParquetAtomic writes rows into outDir/tmp and then renames the
// file into outDir, so readers globbing outDir never see partial files.
// The returned path is the final parquet file path.
func WriteBatchParquetAtomic(outDir string, rows []TransitionRow) (string, error) {
	if len(rows) == 0 {
		return "", fmt.Errorf("no rows to write")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("batch_%d.parquet", time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.SkipPageBounds("observation"),
		parquet.KeyValueMetadata("schema", SchemaTransitionV1),
	); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return finalPath, nil
}

// ReadTransitions loads every row of a batch file.
func ReadTransitions(path string) ([]TransitionRow, error) {
	rows, err := parquet.ReadFile[TransitionRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}

// ListBatches returns the finished batch files directly under dir, skipping tmp/.
func ListBatches(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "batch_*.parquet"))
	if err != nil {
		return nil, err
	}
	return matches, nil
}
