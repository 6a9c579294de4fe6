package mcp

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay is how long ConfigWatcher waits after the last qualifying
// filesystem event before applying the new configuration. A single-slot
// stdlib timer reset on every event, rather than pulling in a separate
// debounce library.
const debounceDelay = 100 * time.Millisecond

// ConfigWatcher watches the parent directory of an mcp.json file and
// applies changes to a Pool via UpdateConfig, debounced so that editors
// writing via atomic rename (write temp file, rename over target) only
// trigger a single reload.
type ConfigWatcher struct {
	configPath string
	pool       *Pool
	watcher    *fsnotify.Watcher
	done       chan struct{}
	stopOnce   sync.Once
}

// NewConfigWatcher creates a watcher for configPath's parent directory.
// Watching the directory rather than the file itself tolerates editors
// that replace the file via rename, which would otherwise orphan an
// inode-based watch on the original file.
func NewConfigWatcher(configPath string, pool *Pool) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(configPath)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &ConfigWatcher{
		configPath: configPath,
		pool:       pool,
		watcher:    w,
		done:       make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine. Call Stop to release
// the underlying inotify/kqueue handle.
func (c *ConfigWatcher) Start(ctx context.Context) {
	go c.loop(ctx)
}

func (c *ConfigWatcher) loop(ctx context.Context) {
	var timer *time.Timer
	target := filepath.Clean(c.configPath)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !(event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(debounceDelay, func() { c.apply(ctx) })
			} else {
				timer.Reset(debounceDelay)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[ConfigWatcher] watch error: %v", err)
		}
	}
}

// apply reloads mcp.json and pushes the result into the pool. Parse
// errors are logged and leave the previous configuration in effect —
// never partially applied.
func (c *ConfigWatcher) apply(ctx context.Context) {
	descriptors, err := LoadConfig(c.configPath)
	if err != nil {
		log.Printf("[ConfigWatcher] reload aborted, keeping previous config: %v", err)
		return
	}
	summary, err := c.pool.UpdateConfig(ctx, descriptors)
	if err != nil {
		log.Printf("[ConfigWatcher] update failed: %v", err)
		return
	}
	log.Printf("[ConfigWatcher] %s", summary)
}

// Stop releases the watcher and terminates the background goroutine. Safe
// to call more than once.
func (c *ConfigWatcher) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		_ = c.watcher.Close()
	})
}
