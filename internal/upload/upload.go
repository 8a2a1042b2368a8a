// Package upload collects a local folder for the folder-upload endpoint and
// can keep re-uploading it as it changes.
package upload

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ehrlich-b/wingdesk/internal/api"
	"github.com/ehrlich-b/wingdesk/internal/logger"
)

// MaxFileSize bounds a single uploaded file. Larger files are skipped.
const MaxFileSize = 10 << 20

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
}

func skipped(name string) bool {
	return skipDirs[filepath.Base(name)]
}

// Collect reads every regular file under root. Names are slash-separated and
// relative to root.
func Collect(root string) ([]api.UploadFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var files []api.UploadFile
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && skipped(p) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if fi.Size() > MaxFileSize {
			logger.Warn("skipping large file", "file", rel, "size", fi.Size())
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files = append(files, api.UploadFile{Name: filepath.ToSlash(rel), Content: data})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect %s: %w", root, err)
	}
	return files, nil
}

// Watcher re-uploads Root after changes settle for Debounce.
type Watcher struct {
	Root     string
	Debounce time.Duration
	Upload   func(ctx context.Context, files []api.UploadFile) error
	// OnSync reports each upload attempt.
	OnSync func(files int, err error)
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.Root); err != nil {
		return err
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	logger.Info("watching for changes", "dir", w.Root, "debounce", debounce)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.ignored(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := w.addTree(fw, ev.Name); err != nil {
						logger.Warn("watch new dir", "dir", ev.Name, "err", err)
					}
				}
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.sync(ctx)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "err", err)
		}
	}
}

func (w *Watcher) sync(ctx context.Context) {
	files, err := Collect(w.Root)
	if err == nil {
		err = w.Upload(ctx, files)
	}
	if err != nil {
		logger.Warn("re-upload failed", "dir", w.Root, "err", err)
	} else {
		logger.Debug("re-uploaded", "dir", w.Root, "files", len(files))
	}
	if w.OnSync != nil {
		w.OnSync(len(files), err)
	}
}

// ignored reports whether name lies in a skipped directory below Root.
func (w *Watcher) ignored(name string) bool {
	rel, err := filepath.Rel(w.Root, name)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if skipDirs[part] {
			return true
		}
	}
	return false
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.Root && skipped(p) {
			return filepath.SkipDir
		}
		if err := fw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}
