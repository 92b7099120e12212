package project

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/opencode-ai/core/internal/logging"
)

// skippedDirs are directory names a file-tree snapshot never descends
// into; they dominate entry counts without carrying project structure.
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".idea":        true,
	"dist":         true,
	"target":       true,
	"vendor":       true,
}

// Watcher maintains a live file-tree snapshot of one project root. The
// snapshot feeds working-memory decoration (session system prompts) and
// the /project/files surface without rescanning the tree on every read:
// filesystem events update it incrementally.
type Watcher struct {
	root string

	fw   *fsnotify.Watcher
	done chan struct{}

	mu    sync.RWMutex
	files map[string]bool
}

// NewWatcher scans root once and starts watching it (and every
// non-skipped subdirectory) for changes.
func NewWatcher(root string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:  root,
		fw:    fw,
		done:  make(chan struct{}),
		files: make(map[string]bool),
	}
	if err := w.scan(); err != nil {
		fw.Close()
		return nil, err
	}
	go w.run()
	return w, nil
}

// Files returns the current snapshot as sorted root-relative paths.
func (w *Watcher) Files() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.files))
	for f := range w.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Close stops the event loop and releases the underlying watches.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}

func (w *Watcher) scan() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files = make(map[string]bool)

	return filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") && path != w.root {
				return filepath.SkipDir
			}
			_ = w.fw.Add(path)
			return nil
		}
		if rel, err := filepath.Rel(w.root, path); err == nil {
			w.files[rel] = true
		}
		return nil
	})
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logging.Debug().Err(err).Str("root", w.root).Msg("project watcher error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if !skippedDirs[info.Name()] {
				_ = w.fw.Add(ev.Name)
			}
			return
		}
		w.mu.Lock()
		w.files[rel] = true
		w.mu.Unlock()
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.mu.Lock()
		delete(w.files, rel)
		// A removed directory takes its subtree with it.
		prefix := rel + string(filepath.Separator)
		for f := range w.files {
			if strings.HasPrefix(f, prefix) {
				delete(w.files, f)
			}
		}
		w.mu.Unlock()
	}
}
