package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/dylive/barrage-relay/internal/barrage"
)

// BarrageLog appends every logged event as a JSON line to a per-day file.
// On day rollover the finished file is gzip-compressed in the background.
type BarrageLog struct {
	mu     sync.Mutex
	dir    string
	day    string
	file   *os.File
	now    func() time.Time
	logger *zap.Logger
}

type barrageLogLine struct {
	Time string            `json:"time"`
	Type barrage.EventKind `json:"type"`
	Msg  *barrage.Event    `json:"msg"`
}

func NewBarrageLog(dir string, logger *zap.Logger) (*BarrageLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating barrage log directory: %w", err)
	}
	return &BarrageLog{dir: dir, now: time.Now, logger: logger}, nil
}

// Append writes one event. Write failures are logged and swallowed; the
// persistent log never blocks the rest of the pipeline.
func (b *BarrageLog) Append(evt *barrage.Event) {
	now := b.now()

	line, err := json.Marshal(barrageLogLine{
		Time: now.Format(time.RFC3339),
		Type: evt.Kind,
		Msg:  evt,
	})
	if err != nil {
		b.logger.Error("failed to marshal barrage log line", zap.Error(err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.rollover(now); err != nil {
		b.logger.Error("failed to open barrage log file", zap.Error(err))
		return
	}
	if _, err := b.file.Write(append(line, '\n')); err != nil {
		b.logger.Warn("failed to append barrage log line", zap.Error(err))
	}
}

// rollover opens the file for the current day, compressing the previous
// day's file when the date changes. Caller holds the mutex.
func (b *BarrageLog) rollover(now time.Time) error {
	day := now.Format("2006-01-02")
	if b.file != nil && day == b.day {
		return nil
	}

	if b.file != nil {
		finished := b.file.Name()
		_ = b.file.Close()
		go b.compress(finished)
	}

	file, err := os.OpenFile(
		filepath.Join(b.dir, fmt.Sprintf("barrage_%s.log", day)),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0o644,
	)
	if err != nil {
		return err
	}
	b.file = file
	b.day = day
	return nil
}

func (b *BarrageLog) compress(path string) {
	src, err := os.Open(path)
	if err != nil {
		b.logger.Warn("failed to open finished barrage log", zap.Error(err))
		return
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		b.logger.Warn("failed to create compressed barrage log", zap.Error(err))
		return
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		b.logger.Warn("failed to compress barrage log", zap.Error(err))
		return
	}
	if err := gz.Close(); err != nil {
		b.logger.Warn("failed to finish compressed barrage log", zap.Error(err))
		return
	}

	if err := os.Remove(path); err != nil {
		b.logger.Warn("failed to remove uncompressed barrage log", zap.Error(err))
	}
	b.logger.Info("compressed barrage log", zap.String("file", path+".gz"))
}

// Close flushes and closes the current file.
func (b *BarrageLog) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	b.file = nil
	return err
}
