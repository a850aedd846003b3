package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Watcher defaults. A segment is enqueued once its size has held still for
// stableCycles consecutive sweeps, so a file FFmpeg is mid-write never ships.
const (
	defaultPollInterval = time.Second
	defaultStableCycles = 2
	defaultQueueCap     = 10
)

// SegmentFile is one finished segment ready for upload.
type SegmentFile struct {
	Path string
	Name string
}

// fileState tracks one observed file across sweeps.
type fileState struct {
	size     int64
	stable   int
	enqueued bool
}

// Watcher polls an encode output directory and feeds finished segments into
// a bounded queue. When the queue is full the segment simply waits for a
// later sweep; the encoder keeps running and the disk absorbs the backlog.
type Watcher struct {
	dir          string
	match        func(name string) bool
	interval     time.Duration
	stableCycles int
	out          chan SegmentFile
	seen         map[string]*fileState
	flush        atomic.Bool
	logger       *slog.Logger
}

// NewWatcher creates a Watcher for dir. match selects the filenames to
// track; queueCap bounds how many finished segments may be pending upload.
func NewWatcher(dir string, match func(string) bool, queueCap int, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	if queueCap <= 0 {
		queueCap = defaultQueueCap
	}
	return &Watcher{
		dir:          dir,
		match:        match,
		interval:     defaultPollInterval,
		stableCycles: defaultStableCycles,
		out:          make(chan SegmentFile, queueCap),
		seen:         make(map[string]*fileState),
		logger:       log.With(slog.String("component", "watcher")),
	}
}

// Segments returns the queue of finished segments. The channel closes once
// the encoder is done and every remaining file has been enqueued.
func (w *Watcher) Segments() <-chan SegmentFile {
	return w.out
}

// Flush makes the next sweep enqueue every tracked file regardless of
// stability. Used when the encoder has exited or an operator forces it.
func (w *Watcher) Flush() {
	w.flush.Store(true)
}

// Run sweeps until the encoder's exit error arrives on encodeDone. A clean
// exit triggers a final blocking drain, so every finished file ships exactly
// once. A crash closes the queue without draining; whatever FFmpeg left
// behind is truncated mid-write and must not ship.
func (w *Watcher) Run(ctx context.Context, encodeDone <-chan error) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer close(w.out)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case encErr := <-encodeDone:
			if encErr != nil {
				w.logger.Warn("encoder exited with error, discarding unstable output",
					slog.String("error", encErr.Error()))
				return nil
			}
			// Final sweep; the encoder flushed everything it will write.
			w.flush.Store(true)
			return w.drain(ctx)
		case <-ticker.C:
			if err := w.sweep(ctx, false); err != nil {
				return err
			}
		}
	}
}

// sweep scans the directory once. With block false a full queue defers the
// segment to the next sweep.
func (w *Watcher) sweep(ctx context.Context, block bool) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		// The directory appears when FFmpeg writes its first segment.
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	flush := w.flush.Load()

	for _, entry := range entries {
		if entry.IsDir() || !w.match(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		st, ok := w.seen[entry.Name()]
		if !ok {
			st = &fileState{size: info.Size()}
			w.seen[entry.Name()] = st
			if !flush {
				continue
			}
		}
		if st.enqueued {
			continue
		}

		if info.Size() == st.size {
			st.stable++
		} else {
			st.size = info.Size()
			st.stable = 0
		}
		if !flush && st.stable < w.stableCycles {
			continue
		}

		seg := SegmentFile{Path: filepath.Join(w.dir, entry.Name()), Name: entry.Name()}
		if block {
			select {
			case w.out <- seg:
				st.enqueued = true
			case <-ctx.Done():
				return ctx.Err()
			}
		} else {
			select {
			case w.out <- seg:
				st.enqueued = true
			default:
				// Queue full; the uploader is behind. Leave the file on
				// disk and retry next sweep.
				w.logger.Debug("upload queue full, deferring segment", slog.String("segment", entry.Name()))
				return nil
			}
		}
	}
	return nil
}

// drain enqueues every remaining file, blocking on the queue as needed.
func (w *Watcher) drain(ctx context.Context) error {
	return w.sweep(ctx, true)
}
