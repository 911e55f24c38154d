package cognition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Catalog is a directory of definition files kept in memory.
//
// Files that fail to parse or validate are logged and skipped; a previously
// loaded version of the same file is dropped rather than served stale.
type Catalog struct {
	dir    string
	logger *zap.Logger

	mu     sync.RWMutex
	byID   map[string]*Definition
	byPath map[string]string // path -> definition id
}

// NewCatalog creates an empty catalog rooted at dir.
func NewCatalog(dir string, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		dir:    dir,
		logger: logger,
		byID:   make(map[string]*Definition),
		byPath: make(map[string]string),
	}
}

// Load scans the directory and loads every supported file.
// It returns the number of definitions loaded.
func (c *Catalog) Load() (int, error) {
	if c.dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("reading catalog dir %s: %w", c.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		c.loadPath(filepath.Join(c.dir, e.Name()))
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID), nil
}

// Put registers a definition directly, for definitions submitted over the API.
func (c *Catalog) Put(def *Definition) error {
	if err := Validate(def); err != nil {
		return err
	}
	c.mu.Lock()
	c.byID[def.ID] = def.Clone()
	c.mu.Unlock()
	return nil
}

// Get returns a copy of the definition with id.
func (c *Catalog) Get(id string) (*Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return def.Clone(), nil
}

// List returns all definitions sorted by id.
func (c *Catalog) List() []*Definition {
	c.mu.RLock()
	out := make([]*Definition, 0, len(c.byID))
	for _, def := range c.byID {
		out = append(out, def.Clone())
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Watch reloads definitions as files change until ctx is cancelled.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.dir == "" {
		return errors.New("catalog has no directory to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(c.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", c.dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				c.handle(ev)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("catalog watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (c *Catalog) handle(ev fsnotify.Event) {
	if _, err := FormatFromPath(ev.Name); err != nil {
		return
	}
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		c.forget(ev.Name)
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		c.loadPath(ev.Name)
	}
}

func (c *Catalog) loadPath(path string) {
	if _, err := FormatFromPath(path); err != nil {
		return
	}
	def, err := LoadFile(path)
	if err != nil {
		c.logger.Warn("skipping cognition definition", zap.String("path", path), zap.Error(err))
		c.forget(path)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if oldID, ok := c.byPath[path]; ok && oldID != def.ID {
		delete(c.byID, oldID)
	}
	if other, ok := c.pathFor(def.ID); ok && other != path {
		c.logger.Warn("duplicate cognition id, later file wins",
			zap.String("id", def.ID), zap.String("previous", other), zap.String("path", path))
		delete(c.byPath, other)
	}
	c.byID[def.ID] = def
	c.byPath[path] = def.ID
	c.logger.Info("cognition definition loaded", zap.String("id", def.ID), zap.String("path", path))
}

func (c *Catalog) forget(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.byPath[path]; ok {
		delete(c.byID, id)
		delete(c.byPath, path)
		c.logger.Info("cognition definition removed", zap.String("id", id), zap.String("path", path))
	}
}

// pathFor must be called with mu held.
func (c *Catalog) pathFor(id string) (string, bool) {
	for p, defID := range c.byPath {
		if defID == id {
			return p, true
		}
	}
	return "", false
}
