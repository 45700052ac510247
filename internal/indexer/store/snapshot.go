package store

import (
	"sync"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
)

// Segment is one segment as seen by a snapshot: the shared reader plus the
// deletions that were committed when the snapshot was taken.
type Segment struct {
	info   *SegmentInfo
	handle *segmentHandle
}

func (s *Segment) ID() uint64 { return s.info.ID }

// Search returns the postings of term in field, deleted documents included.
func (s *Segment) Search(field, term string) (index.PostingList, error) {
	return s.handle.reader.Search(field, term)
}

func (s *Segment) IsDeleted(ordinal uint32) bool { return s.info.IsDeleted(ordinal) }

func (s *Segment) Document(ordinal uint32) (index.Document, error) {
	return s.handle.reader.Document(ordinal)
}

func (s *Segment) Entry(ordinal uint32) index.DocEntry { return s.handle.reader.Entry(ordinal) }

func (s *Segment) DocCount() uint32 { return s.info.DocCount }

func (s *Segment) LiveCount() int { return s.info.LiveCount() }

// Stats summarises a committed version.
type Stats struct {
	Generation  uint64 `json:"generation"`
	Segments    int    `json:"segments"`
	LiveDocs    int    `json:"liveDocs"`
	DeletedDocs int    `json:"deletedDocs"`
}

// Snapshot is a consistent read-only view of a store. Commits that happen
// after it was taken are not visible through it. Close must be called to
// release the segments it pins.
type Snapshot struct {
	v        *Version
	segments []*Segment
	once     sync.Once
}

// EmptySnapshot is a snapshot of an index with no documents.
func EmptySnapshot() *Snapshot {
	return &Snapshot{}
}

func newSnapshot(v *Version) *Snapshot {
	segments := make([]*Segment, len(v.handles))
	for i, h := range v.handles {
		segments[i] = &Segment{info: v.manifest.Segments[i], handle: h}
	}
	return &Snapshot{v: v, segments: segments}
}

// Segments returns the segments in commit order.
func (s *Snapshot) Segments() []*Segment {
	return s.segments
}

// IndexID identifies the index incarnation the snapshot belongs to. It is
// empty for an index that was never created.
func (s *Snapshot) IndexID() string {
	if s.v == nil {
		return ""
	}
	return s.v.manifest.ID
}

func (s *Snapshot) Generation() uint64 {
	if s.v == nil {
		return 0
	}
	return s.v.manifest.Generation
}

// LiveDocs is the number of documents visible in the snapshot.
func (s *Snapshot) LiveDocs() int {
	if s.v == nil {
		return 0
	}
	return s.v.liveDocs
}

// AvgFieldLength is the mean token count of field over live documents.
func (s *Snapshot) AvgFieldLength(field string) float64 {
	if s.v == nil || s.v.liveDocs == 0 {
		return 0
	}
	return float64(s.v.fieldTotals[field]) / float64(s.v.liveDocs)
}

func (s *Snapshot) Stats() Stats {
	if s.v == nil {
		return Stats{}
	}
	return Stats{
		Generation:  s.v.manifest.Generation,
		Segments:    len(s.segments),
		LiveDocs:    s.v.liveDocs,
		DeletedDocs: s.v.manifest.DeletedDocs(),
	}
}

// Get returns the live document stored under key.
func (s *Snapshot) Get(key string) (index.Document, bool, error) {
	for i := len(s.segments) - 1; i >= 0; i-- {
		seg := s.segments[i]
		ord, ok := seg.handle.reader.Lookup(key)
		if !ok || seg.IsDeleted(ord) {
			continue
		}
		doc, err := seg.Document(ord)
		if err != nil {
			return index.Document{}, false, err
		}
		return doc, true, nil
	}
	return index.Document{}, false, nil
}

// Close releases the snapshot. It is safe to call more than once.
func (s *Snapshot) Close() error {
	s.once.Do(func() {
		if s.v != nil {
			s.v.release()
		}
	})
	return nil
}
