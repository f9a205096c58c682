// Package watch implements the drop-folder mode: stills appearing in a
// watched directory are normalized, stamped with the configured default
// device metadata and written to the output directory.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"camforge/internal/meta"
	"camforge/internal/photo"
)

// Result reports the outcome of one auto-embed.
type Result struct {
	Source   string
	Artifact string
	Err      error
}

// Watcher monitors a directory and forges every still dropped into it.
type Watcher struct {
	fsw        *fsnotify.Watcher
	dir        string
	outputDir  string
	normalizer *photo.Manager
	defaults   meta.Input
	log        *slog.Logger

	settle  time.Duration
	results chan Result

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New creates a watcher for dir. Results stream on Results until Stop.
func New(dir, outputDir string, normalizer *photo.Manager, defaults meta.Input, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsw:        fsw,
		dir:        dir,
		outputDir:  outputDir,
		normalizer: normalizer,
		defaults:   defaults,
		log:        logger,
		settle:     500 * time.Millisecond,
		results:    make(chan Result, 16),
		pending:    make(map[string]*time.Timer),
	}, nil
}

// Results returns the outcome channel. Closed when Run returns.
func (w *Watcher) Results() <-chan Result {
	return w.results
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.log.Info("watching drop folder", "dir", w.dir, "output", w.outputDir)

	defer func() {
		w.fsw.Close()
		w.mu.Lock()
		for _, t := range w.pending {
			t.Stop()
		}
		w.pending = nil
		w.mu.Unlock()
		close(w.results)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isStill(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("filesystem watcher error", "error", err)
		}
	}
}

// schedule (re)arms the settle timer for path. Writers that stream the file
// in keep resetting the timer, so we only process once the file stops
// changing.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		if w.pending != nil {
			delete(w.pending, path)
		}
		w.mu.Unlock()

		res := w.process(ctx, path)
		if res.Err != nil {
			w.log.Warn("auto-embed failed", "source", path, "error", res.Err)
		} else {
			w.log.Info("auto-embed complete", "source", path, "artifact", res.Artifact)
		}
		select {
		case w.results <- res:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) process(ctx context.Context, path string) Result {
	src, err := os.ReadFile(path)
	if err != nil {
		return Result{Source: path, Err: err}
	}

	norm, err := w.normalizer.Normalize(ctx, src)
	if err != nil {
		return Result{Source: path, Err: err}
	}

	in := w.defaults
	if in.CaptureAt == "" {
		at := time.Now()
		if info, err := os.Stat(path); err == nil {
			at = info.ModTime()
		}
		in.CaptureAt = at.Format(meta.CaptureTimeLayout)
	}
	in.Width = fmt.Sprintf("%d", norm.Width)
	in.Height = fmt.Sprintf("%d", norm.Height)

	fields, err := meta.Derive(in)
	if err != nil {
		return Result{Source: path, Err: err}
	}

	forged, err := photo.EmbedTags(norm.JPEG, meta.BuildTagSet(fields))
	if err != nil {
		return Result{Source: path, Err: err}
	}

	if err := os.MkdirAll(w.outputDir, 0o755); err != nil {
		return Result{Source: path, Err: err}
	}
	dst := w.artifactPath(time.Now())
	if err := os.WriteFile(dst, forged, 0o644); err != nil {
		return Result{Source: path, Err: err}
	}
	return Result{Source: path, Artifact: dst}
}

// artifactPath picks a free IMG_<timestamp>.jpg name. Drops within the same
// second get a numeric suffix.
func (w *Watcher) artifactPath(at time.Time) string {
	base := "IMG_" + at.Format("20060102T150405")
	dst := filepath.Join(w.outputDir, base+".jpg")
	for n := 1; ; n++ {
		if _, err := os.Stat(dst); os.IsNotExist(err) {
			return dst
		}
		dst = filepath.Join(w.outputDir, fmt.Sprintf("%s-%d.jpg", base, n))
	}
}

func isStill(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".heic", ".heif", ".webp":
		return true
	default:
		return false
	}
}
