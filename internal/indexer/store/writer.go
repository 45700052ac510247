package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/segment"
)

// Writer buffers changes to a store and publishes them with Commit. Only
// one writer per store exists at a time.
type Writer struct {
	store   *Store
	mem     *index.MemoryIndex
	deletes map[string]struct{}
	clear   bool
	seq     uint64
	done    bool
}

func newWriter(s *Store, nextSeq uint64) *Writer {
	return &Writer{
		store:   s,
		mem:     index.NewMemoryIndex(),
		deletes: make(map[string]struct{}),
		seq:     nextSeq,
	}
}

// Upsert stages doc, replacing any committed or staged document with the
// same key.
func (w *Writer) Upsert(doc index.Document) error {
	if w.done {
		return ErrWriterClosed
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	w.deletes[doc.Key] = struct{}{}
	w.mem.AddDocument(doc, w.seq)
	w.seq++
	return nil
}

// Delete stages removal of key. Deleting an absent key is not an error.
func (w *Writer) Delete(key string) error {
	if w.done {
		return ErrWriterClosed
	}
	w.mem.Remove(key)
	w.deletes[key] = struct{}{}
	return nil
}

// DeleteAll stages removal of every document, including ones staged
// earlier in this writer.
func (w *Writer) DeleteAll() error {
	if w.done {
		return ErrWriterClosed
	}
	w.mem.Reset()
	w.deletes = make(map[string]struct{})
	w.clear = true
	return nil
}

func (w *Writer) dirty() bool {
	return w.clear || len(w.deletes) > 0 || w.mem.DocCount() > 0
}

// Commit makes the staged changes durable and visible to new snapshots.
// On error nothing is published and the staged changes are kept, except
// when the manifest was replaced but the directory sync failed: then the
// commit is published and the error reports that it may not survive a
// crash.
func (w *Writer) Commit() error {
	if w.done {
		return ErrWriterClosed
	}
	if !w.dirty() {
		return nil
	}
	s := w.store

	s.mu.Lock()
	base := s.current
	base.acquire()
	s.mu.Unlock()
	defer base.release()

	m := base.manifest.Clone()
	handles := append([]*segmentHandle(nil), base.handles...)
	if w.clear {
		m.Segments = nil
		handles = nil
	}

	deleted := 0
	if len(w.deletes) > 0 {
		for i, info := range m.Segments {
			reader := handles[i].reader
			for key := range w.deletes {
				if ord, ok := reader.Lookup(key); ok && info.Delete(ord) {
					deleted++
				}
			}
		}
	}

	docs, entries := w.mem.Snapshot()
	if deleted == 0 && len(docs) == 0 && !(w.clear && len(base.handles) > 0) {
		w.reset()
		return nil
	}

	var added *segmentHandle
	if len(docs) > 0 {
		id := m.NextSegmentID
		m.NextSegmentID++
		name, err := s.segWriter.Write(id, docs, entries)
		if err != nil {
			return fmt.Errorf("writing segment: %w", err)
		}
		reader, err := segment.OpenReader(filepath.Join(s.dir, name))
		if err != nil {
			os.Remove(filepath.Join(s.dir, name))
			return fmt.Errorf("opening new segment: %w", err)
		}
		added = newSegmentHandle(reader, s.logger)
		m.Segments = append(m.Segments, &SegmentInfo{ID: id, DocCount: uint32(len(docs))})
		handles = append(handles, added)
	}

	m.Segments, handles = pruneEmpty(m.Segments, handles)
	m.NextSeq = w.seq
	m.Generation++
	if err := s.publish(m, handles, added); err != nil {
		if errors.Is(err, errUnsynced) {
			w.reset()
		}
		return err
	}

	s.logger.Debug("committed",
		"generation", m.Generation,
		"added", len(docs),
		"deleted", deleted,
		"cleared", w.clear,
		"segments", len(m.Segments),
	)

	w.reset()

	if limit := s.opts.MaxSegmentsBeforeMerge; limit > 0 && len(m.Segments) > limit {
		if err := s.mergeLocked(); err != nil {
			s.logger.Error("merge after commit failed", "error", err)
		}
	}
	return nil
}

func (w *Writer) reset() {
	w.mem.Reset()
	w.deletes = make(map[string]struct{})
	w.clear = false
}

// Close releases write access and discards uncommitted changes. It is safe
// to call more than once.
func (w *Writer) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	w.mem.Reset()
	<-w.store.writeSem
	return nil
}

// pruneEmpty drops segments whose documents are all deleted.
func pruneEmpty(infos []*SegmentInfo, handles []*segmentHandle) ([]*SegmentInfo, []*segmentHandle) {
	keptInfos := make([]*SegmentInfo, 0, len(infos))
	keptHandles := make([]*segmentHandle, 0, len(handles))
	for i, info := range infos {
		if info.LiveCount() == 0 {
			continue
		}
		keptInfos = append(keptInfos, info)
		keptHandles = append(keptHandles, handles[i])
	}
	return keptInfos, keptHandles
}
