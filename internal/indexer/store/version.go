package store

import (
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/segment"
)

// segmentHandle shares one open segment reader between every version that
// lists the segment. The reader is closed when the last version lets go;
// the file is removed too once the segment has left the manifest.
type segmentHandle struct {
	reader   *segment.Reader
	refs     atomic.Int32
	obsolete atomic.Bool
	logger   *slog.Logger
}

func newSegmentHandle(r *segment.Reader, logger *slog.Logger) *segmentHandle {
	return &segmentHandle{reader: r, logger: logger}
}

func (h *segmentHandle) acquire() {
	h.refs.Add(1)
}

func (h *segmentHandle) release() {
	if h.refs.Add(-1) != 0 {
		return
	}
	path := h.reader.Path()
	if err := h.reader.Close(); err != nil {
		h.logger.Error("closing segment reader", "segment", path, "error", err)
	}
	if h.obsolete.Load() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			h.logger.Error("removing obsolete segment", "segment", path, "error", err)
			return
		}
		h.logger.Debug("obsolete segment removed", "segment", path)
	}
}

// Version is one committed state of a store. It never changes after it is
// installed; a commit builds a new Version and swaps it in.
type Version struct {
	manifest    *Manifest
	handles     []*segmentHandle
	refs        atomic.Int64
	liveDocs    int
	fieldTotals map[string]int64
}

// newVersion builds a version over manifest. handles must line up with
// manifest.Segments; each gets one reference on behalf of the version.
func newVersion(manifest *Manifest, handles []*segmentHandle) *Version {
	v := &Version{
		manifest:    manifest,
		handles:     handles,
		fieldTotals: make(map[string]int64),
	}
	for i, h := range handles {
		h.acquire()
		info := manifest.Segments[i]
		v.liveDocs += info.LiveCount()
		for _, field := range index.TokenizedFields() {
			v.fieldTotals[field] += h.reader.FieldLengthTotal(field)
		}
		if info.deleted == nil {
			continue
		}
		it := info.deleted.Iterator()
		for it.HasNext() {
			entry := h.reader.Entry(it.Next())
			for field, n := range entry.FieldLengths {
				v.fieldTotals[field] -= int64(n)
			}
		}
	}
	v.refs.Store(1)
	return v
}

func (v *Version) acquire() {
	v.refs.Add(1)
}

func (v *Version) release() {
	if v.refs.Add(-1) != 0 {
		return
	}
	for _, h := range v.handles {
		h.release()
	}
}

// handleFor returns the handle of segment id, or nil.
func (v *Version) handleFor(id uint64) *segmentHandle {
	for i, info := range v.manifest.Segments {
		if info.ID == id {
			return v.handles[i]
		}
	}
	return nil
}
