package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/segment"
)

// Merge rewrites all live documents into a single segment. It waits for
// write access like any other writer.
func (s *Store) Merge(ctx context.Context) error {
	w, err := s.Writer(ctx)
	if err != nil {
		return err
	}
	defer w.Close()
	return s.mergeLocked()
}

// SegmentCount returns the number of segments in the current version.
func (s *Store) SegmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return 0
	}
	return len(s.current.handles)
}

// mergeLocked must be called with write access held.
func (s *Store) mergeLocked() error {
	s.mu.Lock()
	base := s.current
	base.acquire()
	s.mu.Unlock()
	defer base.release()

	if len(base.handles) <= 1 && base.manifest.DeletedDocs() == 0 {
		return nil
	}

	type liveDoc struct {
		doc index.Document
		seq uint64
	}
	docs := make([]liveDoc, 0, base.liveDocs)
	for i, info := range base.manifest.Segments {
		reader := base.handles[i].reader
		for ord := uint32(0); ord < info.DocCount; ord++ {
			if info.IsDeleted(ord) {
				continue
			}
			doc, err := reader.Document(ord)
			if err != nil {
				return fmt.Errorf("reading segment %d: %w", info.ID, err)
			}
			docs = append(docs, liveDoc{doc: doc, seq: reader.Entry(ord).Seq})
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].seq < docs[j].seq })

	m := base.manifest.Clone()
	m.Segments = nil
	var handles []*segmentHandle
	var added *segmentHandle
	if len(docs) > 0 {
		mem := index.NewMemoryIndex()
		for _, d := range docs {
			mem.AddDocument(d.doc, d.seq)
		}
		stored, entries := mem.Snapshot()
		id := m.NextSegmentID
		m.NextSegmentID++
		name, err := s.segWriter.Write(id, stored, entries)
		if err != nil {
			return fmt.Errorf("writing merged segment: %w", err)
		}
		reader, err := segment.OpenReader(filepath.Join(s.dir, name))
		if err != nil {
			os.Remove(filepath.Join(s.dir, name))
			return fmt.Errorf("opening merged segment: %w", err)
		}
		added = newSegmentHandle(reader, s.logger)
		m.Segments = []*SegmentInfo{{ID: id, DocCount: uint32(len(stored))}}
		handles = []*segmentHandle{added}
	}
	m.Generation++
	if err := s.publish(m, handles, added); err != nil {
		return err
	}
	s.logger.Info("segments merged",
		"generation", m.Generation,
		"merged_segments", len(base.handles),
		"live_docs", len(docs),
	)
	return nil
}
