// Package watcher detects completed studies: it watches the working tree
// recursively and, after a per-study quiet period, hands study UIDs to the
// processing callback.
package watcher

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cnct/netrt/store"
)

// ObjectCounter reports what a study currently holds on disk.
type ObjectCounter interface {
	ObjectCount(studyUID string) int
	HasImages(studyUID string) bool
}

// Config for a Watcher.
type Config struct {
	Root             string        // working tree root
	QuarantineSubdir string        // excluded subtree name
	Debounce         time.Duration // per-study quiet period
	MinFileCount     int           // readiness gate
	Counter          ObjectCounter
	OnCandidate      func(studyUID string)
	Logger           *slog.Logger
}

// Watcher turns filesystem activity into study completion candidates.
//
// Every event under a study directory resets that study's timer. When the
// timer fires with no further events, the study holds at least MinFileCount
// objects and its image directory is non-empty, OnCandidate runs with the
// study UID. Events under
// Addition/, DebugDicom/ and the quarantine subtree are the relay's own
// output and never schedule or reset timers.
type Watcher struct {
	fsw    *fsnotify.Watcher
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool

	done chan struct{}
}

// New creates a Watcher for cfg. Call Start to begin watching.
func New(cfg Config) (*Watcher, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("watcher: root is required")
	}
	if cfg.Counter == nil {
		return nil, fmt.Errorf("watcher: object counter is required")
	}
	if cfg.OnCandidate == nil {
		return nil, fmt.Errorf("watcher: candidate callback is required")
	}
	if cfg.Debounce <= 0 {
		return nil, fmt.Errorf("watcher: debounce must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}

	return &Watcher{
		fsw:    fsw,
		cfg:    cfg,
		logger: logger,
		timers: make(map[string]*time.Timer),
		done:   make(chan struct{}),
	}, nil
}

// Start adds the watch over the working tree (including directories that
// already exist) and begins the event loop.
func (w *Watcher) Start() error {
	if err := w.addRecursive(w.cfg.Root); err != nil {
		return err
	}

	// Studies already on disk when the relay starts still get a timer, so a
	// restart mid-transfer does not strand them.
	entries, err := os.ReadDir(w.cfg.Root)
	if err == nil {
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			if uid, ok := store.StudyUIDFromDir(entry.Name()); ok {
				w.schedule(uid)
			}
		}
	}

	go w.loop()

	w.logger.Info("Watching working tree",
		"root", w.cfg.Root,
		"debounce", w.cfg.Debounce,
		"min_file_count", w.cfg.MinFileCount)

	return nil
}

// Stop cancels all pending timers and the filesystem watch.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for uid, timer := range w.timers {
		timer.Stop()
		delete(w.timers, uid)
	}
	w.mu.Unlock()

	w.fsw.Close()
	<-w.done
}

// ObjectStored implements services.StoreObserver: a successful C-STORE
// arms the study's timer even if the filesystem event was missed.
func (w *Watcher) ObjectStored(studyUID string) {
	w.schedule(studyUID)
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	rel, err := filepath.Rel(w.cfg.Root, event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}

	if w.excluded(rel) {
		return
	}

	// Newly created directories join the watch so files written into them
	// keep generating events.
	if event.Op&fsnotify.Create != 0 {
		if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("Failed to watch new directory",
					"path", event.Name,
					"error", err)
			}
		}
	}

	parts := strings.Split(rel, string(filepath.Separator))
	uid, ok := store.StudyUIDFromDir(parts[0])
	if !ok {
		return
	}

	w.schedule(uid)
}

// excluded reports whether a path (relative to root) belongs to the
// relay's own output or the quarantine subtree.
func (w *Watcher) excluded(rel string) bool {
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "Addition" || part == "DebugDicom" || part == w.cfg.QuarantineSubdir {
			return true
		}
	}
	return false
}

// schedule arms or resets the study's debounce timer.
func (w *Watcher) schedule(studyUID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	if timer, exists := w.timers[studyUID]; exists {
		timer.Reset(w.cfg.Debounce)
		return
	}

	w.logger.Debug("Study activity detected", "study_uid", studyUID)
	w.timers[studyUID] = time.AfterFunc(w.cfg.Debounce, func() {
		w.fire(studyUID)
	})
}

// fire runs when a study has been quiet for the debounce period. Studies
// below the readiness threshold keep waiting; the next object re-arms the
// timer.
func (w *Watcher) fire(studyUID string) {
	w.mu.Lock()
	delete(w.timers, studyUID)
	closed := w.closed
	w.mu.Unlock()

	if closed {
		return
	}

	count := w.cfg.Counter.ObjectCount(studyUID)
	hasImages := w.cfg.Counter.HasImages(studyUID)
	if count < w.cfg.MinFileCount || !hasImages {
		w.logger.Debug("Study not ready, waiting for more traffic",
			"study_uid", studyUID,
			"objects", count,
			"min_file_count", w.cfg.MinFileCount,
			"has_images", hasImages)
		return
	}

	w.logger.Info("Study completion candidate",
		"study_uid", studyUID,
		"objects", count)

	w.cfg.OnCandidate(studyUID)
}

// addRecursive watches dir and every directory below it.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Directory may have vanished mid-walk
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.cfg.Root, path)
		if relErr == nil && rel != "." && w.excluded(rel) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}
