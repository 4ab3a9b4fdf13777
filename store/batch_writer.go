package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// BatchWriter streams episodes into one Parquet file under outDir/tmp and
// moves it into outDir on Finalize.
type BatchWriter struct {
	tmpPath string
	outPath string

	file   *os.File
	writer *parquet.GenericWriter[TransitionRow]

	episodes []string
	rows     int
}

func NewBatchWriter(outDir string) (*BatchWriter, error) {
	if outDir == "" {
		return nil, fmt.Errorf("outDir is required")
	}

	absOut, err := filepath.Abs(outDir)
	if err != nil {
		absOut = outDir
	}
	tmpDir := filepath.Join(absOut, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("batch_%d.parquet", time.Now().UnixNano())
	tmpPath := filepath.Join(tmpDir, name)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tmp parquet: %w", err)
	}

	w := parquet.NewGenericWriter[TransitionRow](
		f,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.SkipPageBounds("observation"),
	)
	w.SetKeyValueMetadata("schema", SchemaTransitionV1)

	return &BatchWriter{
		tmpPath: tmpPath,
		outPath: filepath.Join(absOut, name),
		file:    f,
		writer:  w,
	}, nil
}

func (b *BatchWriter) OutPath() string { return b.outPath }
func (b *BatchWriter) Episodes() int   { return len(b.episodes) }
func (b *BatchWriter) Rows() int       { return b.rows }

// EpisodeIDs returns the episodes written so far, in order.
func (b *BatchWriter) EpisodeIDs() []string {
	return append([]string(nil), b.episodes...)
}

// WriteEpisode appends one whole episode.
func (b *BatchWriter) WriteEpisode(episodeID string, rows []TransitionRow) error {
	if b.writer == nil || b.file == nil {
		return fmt.Errorf("batch writer is closed")
	}
	if len(rows) == 0 {
		return nil
	}
	if _, err := b.writer.Write(rows); err != nil {
		return fmt.Errorf("write episode %s: %w", episodeID, err)
	}
	b.rows += len(rows)
	b.episodes = append(b.episodes, episodeID)
	return nil
}

// Finalize closes the parquet writer and moves the file from tmp/ to outDir.
// If no rows were written the tmp file is removed and outPath is empty.
func (b *BatchWriter) Finalize() (outPath string, err error) {
	if b.writer == nil && b.file == nil {
		return "", nil
	}
	if err := b.close(); err != nil {
		_ = os.Remove(b.tmpPath)
		return "", err
	}
	if b.rows == 0 {
		_ = os.Remove(b.tmpPath)
		return "", nil
	}
	if err := os.Rename(b.tmpPath, b.outPath); err != nil {
		_ = os.Remove(b.tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return b.outPath, nil
}

// Abort drops the batch without publishing it.
func (b *BatchWriter) Abort() {
	_ = b.close()
	_ = os.Remove(b.tmpPath)
}

func (b *BatchWriter) close() error {
	var closeErr, fileErr error
	if b.writer != nil {
		closeErr = b.writer.Close()
		b.writer = nil
	}
	if b.file != nil {
		_ = b.file.Sync()
		fileErr = b.file.Close()
		b.file = nil
	}
	if closeErr != nil {
		return fmt.Errorf("close parquet writer: %w", closeErr)
	}
	if fileErr != nil {
		return fmt.Errorf("close parquet file: %w", fileErr)
	}
	return nil
}
