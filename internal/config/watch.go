package config

import (
	"fmt"
	"path/filepath"

	"github.com/gnb-webdashboard/gnbdash/internal/watcher"
)

// Watch reloads the config at path whenever it changes and passes the
// result to onChange. Reload failures go to onError and leave the previous
// config in effect. The returned func stops watching.
func Watch(path string, onChange func(*Config), onError func(error)) (func(), error) {
	if path == "" {
		path = DefaultPath()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}

	report := func(err error) {
		if onError != nil {
			onError(err)
		}
	}

	w, err := watcher.New(func(changes []watcher.Change) {
		removed := true
		for _, c := range changes {
			if c.Op&(watcher.Remove|watcher.Rename) == 0 {
				removed = false
			}
		}
		// A remove on its own is usually the first half of an editor's
		// replace; the create that follows triggers the reload.
		if removed {
			return
		}
		cfg, err := Load(abs)
		if err != nil {
			report(fmt.Errorf("reloading %s: %w", abs, err))
			return
		}
		if onChange != nil {
			onChange(cfg)
		}
	}, watcher.WithDebounce(watcher.DefaultDebounce), watcher.WithErrorHandler(report))
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}

	if err := w.AddFile(abs); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config path %s: %w", abs, err)
	}

	return func() { w.Close() }, nil
}
