package commands

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// defaultDebounce groups the bursts of events editors emit on save.
const defaultDebounce = 200 * time.Millisecond

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-parse the project when models or macros change",
		Long: `Parse the project, then watch the models, macros and packages
directories and parse again whenever a .sql or .yml file changes.
Errors are reported and watching continues. Stop with Ctrl-C.`,
		Example: `  # Watch the project
  weft watch

  # Wait longer for editors that write in several steps
  weft watch --debounce 500ms`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			r := cc.Renderer
			parse := func(ctx context.Context, changed string) {
				if changed != "" {
					r.Muted(fmt.Sprintf("change detected: %s", relPath(cc.Cfg.ProjectDir, changed)))
				}
				start := time.Now()
				m, err := cc.Engine.Parse(ctx)
				if err != nil {
					r.Println(r.Styles().Error.Render("parse failed"))
					r.Println(err.Error())
					return
				}
				r.Success(fmt.Sprintf("parsed %d models, %d macros in %s",
					len(m.Nodes), m.Macros.Len(), time.Since(start).Round(time.Millisecond)))
			}

			parse(ctx, "")

			dirs := []string{cc.Cfg.ModelsDir, cc.Cfg.MacrosDir, cc.Cfg.PackagesDir}
			r.Muted("watching " + strings.Join(dirs, ", "))
			return watchDirs(ctx, dirs, debounce, cc.Logger, parse)
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", defaultDebounce, "Quiet period before re-parsing")
	return cmd
}

// watchDirs watches dirs recursively and calls onChange with the last
// changed path once no relevant event arrived for debounce. Directories
// that do not exist yet are watched from the moment they are created.
// onChange runs on the watching goroutine, so calls never overlap.
// watchDirs returns when ctx is done.
func watchDirs(ctx context.Context, dirs []string, debounce time.Duration, logger *slog.Logger, onChange func(context.Context, string)) error {
	w, err := newDirWatcher(dirs)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		changed string
	)
	schedule := func(path string) {
		changed = path
		if timer == nil {
			timer = time.NewTimer(debounce)
		} else {
			timer.Reset(debounce)
		}
		fire = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) && isDir(event.Name) {
				// files written before the watch was added produce no
				// events of their own, so a new directory counts as a change
				if w.within(event.Name) {
					if err := w.addTree(event.Name); err != nil {
						logger.Warn("failed to watch new directory", "dir", event.Name, "error", err)
					}
					schedule(event.Name)
					continue
				}
				added, err := w.sync()
				if err != nil {
					logger.Warn("failed to watch directory", "dir", event.Name, "error", err)
				}
				if added {
					schedule(event.Name)
				}
				continue
			}
			if !relevant(event) || !w.within(event.Name) {
				continue
			}
			logger.Debug("file changed", "path", event.Name, "op", event.Op.String())
			schedule(event.Name)

		case <-fire:
			fire = nil
			onChange(ctx, changed)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}

// dirWatcher watches a set of root directories recursively. A missing
// root is found through its closest existing parent.
type dirWatcher struct {
	*fsnotify.Watcher
	roots  []string
	active map[string]bool
}

func newDirWatcher(roots []string) (*dirWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w := &dirWatcher{Watcher: watcher, active: make(map[string]bool)}
	for _, root := range roots {
		if root != "" {
			w.roots = append(w.roots, filepath.Clean(root))
		}
	}
	if _, err := w.sync(); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return w, nil
}

// sync watches every root that exists and is not watched yet, and the
// closest existing parent of every missing root. It reports whether a
// root was added.
func (w *dirWatcher) sync() (bool, error) {
	added := false
	for _, root := range w.roots {
		if w.active[root] {
			continue
		}
		if isDir(root) {
			if err := w.addTree(root); err != nil {
				return added, fmt.Errorf("failed to watch %s: %w", root, err)
			}
			w.active[root] = true
			added = true
			continue
		}
		if parent := existingParent(root); parent != "" {
			if err := w.Add(parent); err != nil {
				return added, fmt.Errorf("failed to watch %s: %w", parent, err)
			}
		}
	}
	return added, nil
}

// within reports whether path is inside a watched root.
func (w *dirWatcher) within(path string) bool {
	for _, root := range w.roots {
		if !w.active[root] {
			continue
		}
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// addTree adds dir and its subdirectories, skipping hidden directories.
func (w *dirWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

// relevant reports whether event touches a model, macro or package file.
func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	switch strings.ToLower(filepath.Ext(event.Name)) {
	case ".sql", ".yml", ".yaml":
		return !strings.HasPrefix(filepath.Base(event.Name), ".")
	}
	return false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// existingParent returns the closest existing ancestor directory of path.
func existingParent(path string) string {
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		if isDir(dir) {
			return dir
		}
		if parent := filepath.Dir(dir); parent == dir {
			return ""
		}
	}
}

func relPath(base, path string) string {
	if rel, err := filepath.Rel(base, path); err == nil {
		return rel
	}
	return path
}
