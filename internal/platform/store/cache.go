package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ehr/fhir-emulator/internal/platform/fhir"
)

// Cache keeps one immutable snapshot of records per resource type in front
// of another Source. Snapshots are stored whole, so readers never observe a
// partial listing; a load that overlapped an invalidation is served but not
// kept.
type Cache struct {
	src    Source
	logger zerolog.Logger

	mu      sync.RWMutex
	entries map[string][]fhir.Record
	gen     uint64

	group singleflight.Group
}

// NewCache wraps src.
func NewCache(src Source, logger zerolog.Logger) *Cache {
	return &Cache{
		src:     src,
		logger:  logger.With().Str("component", "store.cache").Logger(),
		entries: make(map[string][]fhir.Record),
	}
}

func (c *Cache) Load(ctx context.Context, resourceType string) ([]fhir.Record, error) {
	c.mu.RLock()
	records, ok := c.entries[resourceType]
	c.mu.RUnlock()
	if ok {
		return records, nil
	}

	v, err, _ := c.group.Do(resourceType, func() (interface{}, error) {
		c.mu.RLock()
		gen := c.gen
		c.mu.RUnlock()

		records, err := c.src.Load(ctx, resourceType)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.gen == gen {
			c.entries[resourceType] = records
		}
		c.mu.Unlock()
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]fhir.Record), nil
}

func (c *Cache) Variant(ctx context.Context, resourceType, id string) (fhir.Record, error) {
	return c.src.Variant(ctx, resourceType, id)
}

func (c *Cache) ResourceTypes(ctx context.Context) ([]string, error) {
	return c.src.ResourceTypes(ctx)
}

// Invalidate drops every snapshot.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.gen++
	c.entries = make(map[string][]fhir.Record)
	c.mu.Unlock()
}

// size returns the number of cached resource types.
func (c *Cache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Watch invalidates the cache whenever anything under root changes. The
// watcher is registered before Watch returns; the returned func stops it.
func (c *Cache) Watch(ctx context.Context, root string) (func() error, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create watcher")
	}

	if err := w.Add(root); err != nil {
		w.Close()
		return nil, errors.Wrapf(err, "watch %s", root)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		w.Close()
		return nil, errors.Wrapf(err, "list %s", root)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := w.Add(filepath.Join(root, e.Name())); err != nil {
			w.Close()
			return nil, errors.Wrapf(err, "watch %s", e.Name())
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Create) {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						if err := w.Add(ev.Name); err != nil {
							c.logger.Warn().Err(err).Str("path", ev.Name).Msg("failed to watch new folder")
						}
					}
				}
				c.logger.Debug().Str("path", ev.Name).Str("op", ev.Op.String()).Msg("records changed")
				c.Invalidate()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				c.logger.Warn().Err(err).Msg("watcher error")
				c.Invalidate()
			}
		}
	}()

	var once sync.Once
	var closeErr error
	stop := func() error {
		once.Do(func() {
			closeErr = w.Close()
			<-done
		})
		return closeErr
	}
	return stop, nil
}
