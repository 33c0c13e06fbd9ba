// Package replay feeds recorded raw events into the engine. It stands in
// for the live capture layer: recordings are JSONL files of raw payloads
// tagged with their kind, optionally gzip-compressed.
package replay

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/dylive/barrage-relay/internal/barrage"
)

// Handler consumes one decoded raw event.
type Handler func(barrage.RawEvent)

// Source replays every recording in a directory, in file name order, one
// event per interval.
type Source struct {
	files    []string
	interval time.Duration
	logger   *zap.Logger
}

func NewSource(dir string, interval time.Duration, logger *zap.Logger) (*Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading replay directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".jsonl") || strings.HasSuffix(name, ".jsonl.gz") {
			files = append(files, filepath.Join(dir, name))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no recordings found in %s", dir)
	}
	sort.Strings(files)

	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Source{files: files, interval: interval, logger: logger}, nil
}

// Run replays all recordings, invoking handle for each decoded event.
// Returns when every file is exhausted or the context is cancelled.
func (s *Source) Run(ctx context.Context, handle Handler) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for _, path := range s.files {
		s.logger.Info("replaying recording", zap.String("file", path))
		if err := s.replayFile(ctx, path, handle, ticker); err != nil {
			if err == context.Canceled {
				return nil
			}
			return err
		}
	}
	s.logger.Info("replay finished", zap.Int("files", len(s.files)))
	return nil
}

func (s *Source) replayFile(ctx context.Context, path string, handle Handler, ticker *time.Ticker) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening recording: %w", err)
	}
	defer file.Close()

	var reader io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return fmt.Errorf("opening compressed recording: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	scanner := bufio.NewScanner(reader)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		raw, err := barrage.DecodeRaw(line)
		if err != nil {
			s.logger.Warn("skipping undecodable recording line",
				zap.String("file", path),
				zap.Int("line", lineNum),
				zap.Error(err),
			)
			continue
		}

		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
		}
		handle(raw)
	}
	return scanner.Err()
}
