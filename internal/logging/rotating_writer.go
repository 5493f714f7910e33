package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultMaxBytes rolls a log file over within the same day.
const DefaultMaxBytes int64 = 256 << 20

// RotatingWriter appends to <prefix>-YYYY-MM-DD[-N]<ext> next to BasePath,
// starting a new file every UTC day and whenever a write would push the
// current file past MaxBytes. BasePath itself is kept pointing at the
// current file.
//
//	logs/catgated.log -> logs/catgated-2026-03-01.log, logs/catgated-2026-03-01-2.log
type RotatingWriter struct {
	BasePath string
	MaxBytes int64

	mu    sync.Mutex
	now   func() time.Time
	date  string
	index int
	file  *os.File
	size  int64
}

// NewRotatingWriter opens the writer for basePath. "-" yields a writer that
// discards everything.
func NewRotatingWriter(basePath string, maxBytes int64) (io.WriteCloser, error) {
	if strings.TrimSpace(basePath) == "-" {
		return nopWriteCloser{w: io.Discard}, nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	w := &RotatingWriter{BasePath: basePath, MaxBytes: maxBytes, now: time.Now}
	if err := w.rotate(0); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotate(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// rotate opens the file the next write of n bytes belongs in.
func (w *RotatingWriter) rotate(n int64) error {
	today := w.now().UTC().Format("2006-01-02")
	switch {
	case w.file == nil || w.date != today:
		w.date, w.index = today, 1
	case w.size > 0 && w.size+n > w.MaxBytes:
		w.index++
	default:
		return nil
	}
	return w.open()
}

// CurrentPath is the file writes currently go to.
func (w *RotatingWriter) CurrentPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path(w.date, w.index)
}

func (w *RotatingWriter) path(date string, index int) string {
	dir, name := filepath.Split(w.BasePath)
	if dir == "" {
		dir = "."
	}
	ext := filepath.Ext(name)
	prefix := strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".log"
	}
	if index > 1 {
		return filepath.Join(dir, fmt.Sprintf("%s-%s-%d%s", prefix, date, index, ext))
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", prefix, date, ext))
}

func (w *RotatingWriter) open() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	target := w.path(w.date, w.index)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("logging: create log dir: %w", err)
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open log file: %w", err)
	}
	w.size = 0
	if st, err := f.Stat(); err == nil {
		w.size = st.Size()
	}
	w.file = f
	w.link(target)
	return nil
}

// link points BasePath at target, as a symlink when the filesystem allows
// it and otherwise as a one-line text file naming the target.
func (w *RotatingWriter) link(target string) {
	base := w.BasePath
	if dest, err := os.Readlink(base); err == nil && dest == filepath.Base(target) {
		return
	}
	_ = os.Remove(base)
	if err := os.Symlink(filepath.Base(target), base); err == nil {
		return
	}
	_ = os.WriteFile(base, []byte("current log file: "+target+"\n"), 0o644)
}

type nopWriteCloser struct{ w io.Writer }

func (n nopWriteCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopWriteCloser) Close() error                { return nil }
