package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/notewell/noterelay/internal/notesync"
	"github.com/notewell/noterelay/internal/schedule"
)

const DefaultSettleDelay = 500 * time.Millisecond

type Submitter interface {
	Submit(ctx context.Context, content, target string) (notesync.SubmitResult, error)
}

type Logger interface {
	Printf(format string, args ...any)
}

type WatcherOptions struct {
	Dir         string
	Target      string
	Submitter   Submitter
	SettleDelay time.Duration
	Logger      Logger
}

// Watcher turns text files dropped into a directory into submitted
// notes. A file is deleted only after the submitter accepts it, so a
// note survives a crash between drop and submit. Rejected files stay
// put and are retried on the next change or restart.
type Watcher struct {
	dir         string
	target      string
	submitter   Submitter
	settleDelay time.Duration
	logger      Logger

	fs    *fsnotify.Watcher
	sched *schedule.Scheduler

	mu      sync.Mutex
	pending map[string]*schedule.Task

	closeOnce sync.Once
	done      chan struct{}
}

func NewWatcher(opts WatcherOptions) (*Watcher, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, fmt.Errorf("inbox dir is required")
	}
	if strings.TrimSpace(opts.Target) == "" {
		return nil, fmt.Errorf("inbox target is required")
	}
	if opts.Submitter == nil {
		return nil, fmt.Errorf("submitter is required")
	}
	settle := opts.SettleDelay
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Watcher{
		dir:         opts.Dir,
		target:      opts.Target,
		submitter:   opts.Submitter,
		settleDelay: settle,
		logger:      opts.Logger,
		sched:       schedule.NewScheduler(),
		pending:     map[string]*schedule.Task{},
		done:        make(chan struct{}),
	}, nil
}

// Start begins watching and sweeps files already present, so notes
// dropped while the daemon was down are not stranded.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating inbox dir: %w", err)
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating inbox watcher: %w", err)
	}
	if err := fs.Add(w.dir); err != nil {
		_ = fs.Close()
		return fmt.Errorf("watching inbox dir: %w", err)
	}
	w.fs = fs

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		_ = fs.Close()
		return fmt.Errorf("scanning inbox dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if eligible(path) {
			w.schedule(path)
		}
	}

	go w.loop()
	return nil
}

func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
		if w.fs != nil {
			_ = w.fs.Close()
		}
		w.sched.Close()
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if eligible(event.Name) {
				w.schedule(event.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logf("inbox watch error: %v", err)
		}
	}
}

// schedule debounces per file: editors fire several writes while saving
// and only the settled content should be submitted.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if task, ok := w.pending[path]; ok {
		task.Cancel()
	}
	w.pending[path] = w.sched.After(w.settleDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ingest(path)
	})
}

func (w *Watcher) ingest(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logf("reading inbox file %s: %v", path, err)
		}
		return
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return
	}
	if _, err := w.submitter.Submit(context.Background(), content, w.target); err != nil {
		w.logf("submitting inbox file %s: %v", path, err)
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		w.logf("removing inbox file %s: %v", path, err)
	}
}

func eligible(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md":
		return true
	}
	return false
}

func (w *Watcher) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}
