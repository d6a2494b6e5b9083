package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// Journal appends events to a JSON-lines file and rotates it by size.
// Rotated files are gzip-compressed next to the live one; an optional
// callback picks each finished archive up (the S3 archiver attaches
// there).
type Journal struct {
	dir      string
	maxBytes int64
	logger   *zap.Logger
	onRotate func(path string)

	mu   sync.Mutex
	f    *os.File
	size int64
}

const journalName = "events.jsonl"

// NewJournal opens (or resumes) the journal in dir.
func NewJournal(dir string, maxSizeMB int, logger *zap.Logger, onRotate func(path string)) (*Journal, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 16
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	path := filepath.Join(dir, journalName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat journal: %w", err)
	}

	return &Journal{
		dir:      dir,
		maxBytes: int64(maxSizeMB) << 20,
		logger:   logger,
		onRotate: onRotate,
		f:        f,
		size:     st.Size(),
	}, nil
}

// Append writes one event line, rotating first if the file is full.
func (j *Journal) Append(event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.size+int64(len(line)) > j.maxBytes && j.size > 0 {
		if err := j.rotateLocked(); err != nil {
			// Keep appending to the oversized file rather than drop
			// events; rotation retries on the next append.
			j.logger.Warn("journal rotation failed", zap.Error(err))
		}
	}

	n, err := j.f.Write(line)
	j.size += int64(n)
	if err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

func (j *Journal) rotateLocked() error {
	if err := j.f.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}

	live := filepath.Join(j.dir, journalName)
	stamp := time.Now().UTC().Format("20060102T150405")
	rotated := filepath.Join(j.dir, fmt.Sprintf("events-%s.jsonl", stamp))
	if err := os.Rename(live, rotated); err != nil {
		return fmt.Errorf("rename journal: %w", err)
	}

	f, err := os.OpenFile(live, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen journal: %w", err)
	}
	j.f = f
	j.size = 0

	// Compress off the append path.
	go j.compress(rotated)
	return nil
}

func (j *Journal) compress(path string) {
	gz := path + ".gz"
	if err := gzipFile(path, gz); err != nil {
		j.logger.Warn("journal compression failed",
			zap.String("path", path),
			zap.Error(err))
		return
	}
	if err := os.Remove(path); err != nil {
		j.logger.Warn("remove rotated journal failed",
			zap.String("path", path),
			zap.Error(err))
	}
	j.logger.Info("journal rotated", zap.String("archive", gz))
	if j.onRotate != nil {
		j.onRotate(gz)
	}
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		return fmt.Errorf("compress %s: %w", src, err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("flush %s: %w", dst, err)
	}
	return nil
}

// Close flushes and closes the live journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// Handler adapts the journal to a bus subscriber.
func (j *Journal) Handler() Handler {
	return func(_ context.Context, event Event) error {
		if err := j.Append(event); err != nil {
			j.logger.Warn("journal append failed", zap.Error(err))
			return err
		}
		return nil
	}
}
