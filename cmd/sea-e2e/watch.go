package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 300 * time.Millisecond

// watch runs fn once, then again after every burst of changes to the suite,
// its OpenAPI document or its env directory, until ctx is done.
func watch(ctx context.Context, o runOptions, fn func(context.Context)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer fsw.Close()

	specDir := filepath.Dir(o.spec)
	dirs := []string{specDir}
	if envDir := filepath.Join(specDir, o.envDir); isDir(envDir) {
		dirs = append(dirs, envDir)
	}
	if o.openapiPath != "" {
		dirs = append(dirs, filepath.Dir(o.openapiPath))
	}
	for _, d := range dirs {
		if err := fsw.Add(d); err != nil {
			return fmt.Errorf("watch %s: %w", d, err)
		}
	}

	rerun := func() {
		fn(ctx)
		fmt.Println(color.CyanString("watching %s for changes (ctrl-c to stop)", o.spec))
	}
	rerun()

	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			timer.Reset(watchDebounce)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		case <-timer.C:
			rerun()
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	switch filepath.Ext(ev.Name) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
