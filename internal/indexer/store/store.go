// Package store keeps one named index on disk: an append-only set of
// immutable segments, a manifest naming the live ones and a single writer
// that publishes new versions atomically. Readers work on snapshots and are
// never blocked by the writer.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/segment"
)

const lockFilename = "LOCK"

var (
	ErrNotFound     = errors.New("index not found")
	ErrLocked       = errors.New("index is locked by another process")
	ErrClosed       = errors.New("store is closed")
	ErrWriterClosed = errors.New("writer is closed")
)

// Options control how a store is opened.
type Options struct {
	// Create makes Open initialise an empty index when none exists.
	Create                 bool
	Compression            segment.Compression
	MaxSegmentsBeforeMerge int
	LockTimeout            time.Duration
	Logger                 *slog.Logger
}

// Store is an open index directory.
type Store struct {
	dir       string
	opts      Options
	lock      *flock.Flock
	writeSem  chan struct{}
	segWriter *segment.Writer
	logger    *slog.Logger

	mu      sync.Mutex
	current *Version
	closed  bool
}

// Open opens the index stored in dir, taking an exclusive lock on it for as
// long as the store stays open.
func Open(ctx context.Context, dir string, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 5 * time.Second
	}
	logger := opts.Logger.With("component", "store", "dir", dir)

	if !opts.Create {
		if _, err := os.Stat(filepath.Join(dir, ManifestFilename)); err != nil {
			if os.IsNotExist(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("checking manifest: %w", err)
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFilename))
	lockCtx, cancel := context.WithTimeout(ctx, opts.LockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, 20*time.Millisecond)
	if err != nil || !locked {
		if err == nil {
			err = lockCtx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrLocked, dir, err)
	}

	s := &Store{
		dir:       dir,
		opts:      opts,
		lock:      lock,
		writeSem:  make(chan struct{}, 1),
		segWriter: segment.NewWriter(dir, opts.Compression),
		logger:    logger,
	}
	if err := s.recover(); err != nil {
		lock.Unlock()
		return nil, err
	}
	return s, nil
}

// recover loads the manifest, opens every segment it names and removes
// files left behind by interrupted commits.
func (s *Store) recover() error {
	manifest, err := loadManifest(s.dir)
	switch {
	case os.IsNotExist(err):
		if !s.opts.Create {
			return ErrNotFound
		}
		manifest = newManifest()
		if err := manifest.save(s.dir); err != nil {
			return fmt.Errorf("initialising manifest: %w", err)
		}
		s.logger.Info("index created")
	case err != nil:
		return fmt.Errorf("loading manifest: %w", err)
	}

	handles := make([]*segmentHandle, 0, len(manifest.Segments))
	for _, info := range manifest.Segments {
		reader, err := segment.OpenReader(filepath.Join(s.dir, segment.FileName(info.ID)))
		if err != nil {
			for _, h := range handles {
				h.reader.Close()
			}
			return fmt.Errorf("opening segment %d: %w", info.ID, err)
		}
		handles = append(handles, newSegmentHandle(reader, s.logger))
	}
	s.removeOrphans(manifest)
	s.current = newVersion(manifest, handles)

	s.logger.Info("index opened",
		"generation", manifest.Generation,
		"segments", len(manifest.Segments),
		"live_docs", s.current.liveDocs,
	)
	return nil
}

func (s *Store) removeOrphans(m *Manifest) {
	live := make(map[string]struct{}, len(m.Segments))
	for _, info := range m.Segments {
		live[segment.FileName(info.ID)] = struct{}{}
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("listing index directory", "error", err)
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		orphan := strings.HasSuffix(name, ".tmp")
		if strings.HasSuffix(name, segment.FileExt) {
			_, ok := live[name]
			orphan = !ok
		}
		if !orphan {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			s.logger.Warn("removing orphan file", "file", name, "error", err)
			continue
		}
		s.logger.Info("removed orphan file", "file", name)
	}
}

func (s *Store) Dir() string {
	return s.dir
}

// Snapshot pins the current version.
func (s *Store) Snapshot() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.current.acquire()
	return newSnapshot(s.current), nil
}

// Stats describes the current version.
func (s *Store) Stats() (Stats, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return Stats{}, err
	}
	defer snap.Close()
	return snap.Stats(), nil
}

// Writer waits for exclusive write access. The returned writer must be
// closed; changes that were not committed are discarded.
func (s *Store) Writer(ctx context.Context) (*Writer, error) {
	select {
	case s.writeSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	closed := s.closed
	var nextSeq uint64
	if !closed {
		nextSeq = s.current.manifest.NextSeq
	}
	s.mu.Unlock()
	if closed {
		<-s.writeSem
		return nil, ErrClosed
	}
	return newWriter(s, nextSeq), nil
}

// Update runs fn with a writer and commits when fn returns nil.
func (s *Store) Update(ctx context.Context, fn func(w *Writer) error) error {
	w, err := s.Writer(ctx)
	if err != nil {
		return err
	}
	defer w.Close()
	if err := fn(w); err != nil {
		return err
	}
	return w.Commit()
}

// install publishes a new version built from m and handles and retires the
// previous one.
func (s *Store) install(m *Manifest, handles []*segmentHandle) {
	v := newVersion(m, handles)
	s.mu.Lock()
	old := s.current
	s.current = v
	s.mu.Unlock()

	kept := make(map[*segmentHandle]struct{}, len(handles))
	for _, h := range handles {
		kept[h] = struct{}{}
	}
	for _, h := range old.handles {
		if _, ok := kept[h]; !ok {
			h.obsolete.Store(true)
		}
	}
	old.release()
}

// publish saves m and installs it as the current version. The added
// segment is removed when the save fails, unless the new manifest already
// replaced the old one on disk; that version is installed so memory and
// disk agree.
func (s *Store) publish(m *Manifest, handles []*segmentHandle, added *segmentHandle) error {
	err := m.save(s.dir)
	if err != nil && !errors.Is(err, errUnsynced) {
		if added != nil {
			path := added.reader.Path()
			added.reader.Close()
			os.Remove(path)
		}
		return fmt.Errorf("saving manifest: %w", err)
	}
	s.install(m, handles)
	if err != nil {
		return fmt.Errorf("saving manifest: %w", err)
	}
	return nil
}

// Close waits for an active writer to finish, then releases the current
// version and the directory lock. Open snapshots stay readable.
func (s *Store) Close() error {
	s.writeSem <- struct{}{}
	defer func() { <-s.writeSem }()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	current := s.current
	s.mu.Unlock()

	current.release()
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("releasing index lock: %w", err)
	}
	s.logger.Debug("index closed")
	return nil
}
