package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// EpisodeLog records which episode IDs have been flushed to Parquet.
// It is backed by an append-only file with one episode ID per line, read
// into memory on open. A partial final line left by a crash is ignored.
type EpisodeLog struct {
	mu      sync.RWMutex
	path    string
	file    *os.File
	written map[string]struct{}
}

func OpenEpisodeLog(path string) (*EpisodeLog, error) {
	if path == "" {
		return nil, fmt.Errorf("log path is required")
	}

	written := make(map[string]struct{})
	if f, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			id := strings.TrimSpace(scanner.Text())
			if id == "" {
				continue
			}
			written[id] = struct{}{}
		}
		_ = f.Close()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &EpisodeLog{
		path:    path,
		file:    file,
		written: written,
	}, nil
}

func (l *EpisodeLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *EpisodeLog) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.written[id]
	return ok
}

func (l *EpisodeLog) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.written)
}

// AddMany appends the IDs not yet present and syncs once.
func (l *EpisodeLog) AddMany(ids []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("log file is closed")
	}

	added := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := l.written[id]; ok {
			continue
		}
		if _, err := l.file.WriteString(id + "\n"); err != nil {
			return fmt.Errorf("append log: %w", err)
		}
		l.written[id] = struct{}{}
		added++
	}
	if added == 0 {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync log: %w", err)
	}
	return nil
}
