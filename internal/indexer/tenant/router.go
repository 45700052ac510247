// Package tenant maps index names onto open stores. Each name owns an
// independent store.Store backed by its own directory under the data dir,
// and the Router guarantees at most one open Store per name in-process.
// Stores nobody is using are kept in an LRU and closed when evicted.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
)

// ErrClosed is returned by Acquire after the router has been closed.
var ErrClosed = errors.New("tenant router is closed")

const maxDirNameLen = 48

type entry struct {
	name  string
	store *store.Store
	refs  int
}

// Router hands out reference-counted access to per-name stores.
type Router struct {
	baseDir string
	opts    store.Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	opening singleflight.Group

	mu      sync.Mutex
	active  map[string]*entry
	idle    *lru.Cache[string, *entry]
	evicted []*entry
	closed  bool
}

// NewRouter creates a router that keeps up to cfg.MaxOpenIndexes idle stores
// open under cfg.DataDir. m may be nil.
func NewRouter(cfg config.IndexerConfig, m *metrics.Metrics) (*Router, error) {
	compression, err := segment.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	r := &Router{
		baseDir: cfg.DataDir,
		opts: store.Options{
			Compression:            compression,
			MaxSegmentsBeforeMerge: cfg.MaxSegmentsBeforeMerge,
			LockTimeout:            cfg.LockTimeout,
		},
		logger:  slog.Default().With("component", "tenant-router"),
		metrics: m,
		active:  make(map[string]*entry),
	}
	size := cfg.MaxOpenIndexes
	if size < 1 {
		size = 1
	}
	r.idle, err = lru.NewWithEvict[string, *entry](size, r.onEvict)
	if err != nil {
		return nil, fmt.Errorf("creating idle store cache: %w", err)
	}
	r.opts.Logger = r.logger
	r.logger.Info("tenant router ready", "data_dir", cfg.DataDir, "max_idle", size)
	return r, nil
}

// Dir returns the storage directory of index name.
func (r *Router) Dir(name string) string {
	return filepath.Join(r.baseDir, DirName(name))
}

// DirName derives a stable, filesystem-safe directory name. The hash keeps
// names that sanitise to the same string apart.
func DirName(name string) string {
	h := fnv.New64a()
	h.Write([]byte(name))

	var b strings.Builder
	for _, r := range name {
		if b.Len() >= maxDirNameLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return fmt.Sprintf("%016x-%s", h.Sum64(), b.String())
}

// Handle is a reference to an open store. Release must be called once the
// caller is done with it.
type Handle struct {
	Store *store.Store
	name  string
	r     *Router
	once  sync.Once
}

func (h *Handle) Name() string { return h.name }

// Release gives the reference back. It is safe to call more than once.
func (h *Handle) Release() {
	h.once.Do(func() { h.r.release(h.name) })
}

// Acquire returns the store of name. Without create, an index that does
// not exist on disk yields store.ErrNotFound.
func (r *Router) Acquire(ctx context.Context, name string, create bool) (*Handle, error) {
	for attempt := 0; ; attempt++ {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrClosed
		}
		e := r.takeLocked(name)
		if e != nil {
			e.refs++
			r.mu.Unlock()
			r.closeEvicted()
			return &Handle{Store: e.store, name: name, r: r}, nil
		}
		r.mu.Unlock()
		r.closeEvicted()

		_, err, _ := r.opening.Do(name, func() (any, error) {
			return nil, r.open(ctx, name, create)
		})
		if err != nil {
			// A concurrent caller without create may have run the open.
			if create && errors.Is(err, store.ErrNotFound) && attempt < 2 {
				continue
			}
			return nil, err
		}
	}
}

// takeLocked finds the entry of name and makes sure it is in the active set.
func (r *Router) takeLocked(name string) *entry {
	if e, ok := r.active[name]; ok {
		return e
	}
	e, ok := r.idle.Peek(name)
	if !ok {
		return nil
	}
	r.active[name] = e
	r.idle.Remove(name)
	return e
}

func (r *Router) open(ctx context.Context, name string, create bool) error {
	r.mu.Lock()
	if _, ok := r.active[name]; ok {
		r.mu.Unlock()
		return nil
	}
	if r.idle.Contains(name) {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	s, err := store.Open(ctx, r.Dir(name), r.withCreate(create))
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		s.Close()
		return ErrClosed
	}
	r.active[name] = &entry{name: name, store: s}
	r.updateGauge()
	r.logger.Debug("index opened", "index", name)
	return nil
}

func (r *Router) withCreate(create bool) store.Options {
	opts := r.opts
	opts.Create = create
	return opts
}

func (r *Router) release(name string) {
	r.mu.Lock()
	e, ok := r.active[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(r.active, name)
		if r.closed {
			r.evicted = append(r.evicted, e)
		} else {
			r.idle.Add(name, e)
		}
	}
	r.mu.Unlock()
	r.closeEvicted()
}

// onEvict runs inside idle cache calls, which only happen with r.mu held.
func (r *Router) onEvict(name string, e *entry) {
	if _, ok := r.active[name]; ok {
		return
	}
	r.evicted = append(r.evicted, e)
}

func (r *Router) closeEvicted() {
	r.mu.Lock()
	evicted := r.evicted
	r.evicted = nil
	r.updateGauge()
	r.mu.Unlock()

	for _, e := range evicted {
		if err := e.store.Close(); err != nil {
			r.logger.Error("closing index", "index", e.name, "error", err)
			continue
		}
		r.logger.Debug("index closed", "index", e.name)
	}
}

func (r *Router) updateGauge() {
	if r.metrics != nil {
		r.metrics.OpenIndexes.Set(float64(len(r.active) + r.idle.Len() + len(r.evicted)))
	}
}

// OpenNames lists the indexes currently held open, active or idle.
func (r *Router) OpenNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.active)+r.idle.Len())
	for name := range r.active {
		names = append(names, name)
	}
	names = append(names, r.idle.Keys()...)
	return names
}

// Close closes every store. Handles still held keep their Store value, but
// further operations on it fail with store.ErrClosed.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.idle.Purge()
	active := make([]*entry, 0, len(r.active))
	for _, e := range r.active {
		active = append(active, e)
	}
	r.mu.Unlock()
	r.closeEvicted()

	var firstErr error
	for _, e := range active {
		if err := e.store.Close(); err != nil {
			r.logger.Error("close failed", "index", e.name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	r.logger.Info("tenant router closed")
	return firstErr
}
