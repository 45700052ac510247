package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
)

const ManifestFilename = "manifest.json"

// errUnsynced means the new manifest was renamed into place but the
// directory sync failed. The manifest on disk may already be the new one.
var errUnsynced = errors.New("manifest renamed but directory not synced")

// SegmentInfo is the manifest's view of one segment: how many documents it
// was written with and which of them have since been deleted.
type SegmentInfo struct {
	ID       uint64 `json:"id"`
	DocCount uint32 `json:"docs"`
	Deleted  []byte `json:"deleted,omitempty"`

	deleted *roaring.Bitmap
}

// IsDeleted reports whether the document at ordinal has been deleted.
func (s *SegmentInfo) IsDeleted(ordinal uint32) bool {
	return s.deleted != nil && s.deleted.Contains(ordinal)
}

// Delete marks ordinal deleted. It reports whether the document was live.
func (s *SegmentInfo) Delete(ordinal uint32) bool {
	if s.deleted == nil {
		s.deleted = roaring.New()
	}
	return s.deleted.CheckedAdd(ordinal)
}

func (s *SegmentInfo) DeletedCount() int {
	if s.deleted == nil {
		return 0
	}
	return int(s.deleted.GetCardinality())
}

func (s *SegmentInfo) LiveCount() int {
	return int(s.DocCount) - s.DeletedCount()
}

// Clone creates a copy that can be updated independently.
func (s *SegmentInfo) Clone() *SegmentInfo {
	c := &SegmentInfo{ID: s.ID, DocCount: s.DocCount}
	if s.deleted != nil {
		c.deleted = s.deleted.Clone()
	}
	return c
}

// Manifest is the durable root of an index: the ordered list of live
// segments plus the counters new segments and documents draw from. ID is
// fixed when the index is created, so an index recreated under the same
// name starts a new generation sequence under a new ID.
type Manifest struct {
	ID            string         `json:"id"`
	Generation    uint64         `json:"generation"`
	NextSegmentID uint64         `json:"nextSegmentId"`
	NextSeq       uint64         `json:"nextSeq"`
	Segments      []*SegmentInfo `json:"segments"`
}

func newManifest() *Manifest {
	return &Manifest{ID: uuid.NewString(), NextSegmentID: 1, NextSeq: 1}
}

// Clone creates a copy of the manifest that can be updated independently.
func (m *Manifest) Clone() *Manifest {
	m2 := &Manifest{
		ID:            m.ID,
		Generation:    m.Generation,
		NextSegmentID: m.NextSegmentID,
		NextSeq:       m.NextSeq,
		Segments:      make([]*SegmentInfo, len(m.Segments)),
	}
	for i, s := range m.Segments {
		m2.Segments[i] = s.Clone()
	}
	return m2
}

func (m *Manifest) LiveDocs() int {
	n := 0
	for _, s := range m.Segments {
		n += s.LiveCount()
	}
	return n
}

func (m *Manifest) DeletedDocs() int {
	n := 0
	for _, s := range m.Segments {
		n += s.DeletedCount()
	}
	return n
}

func loadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFilename))
	if err != nil {
		return nil, err
	}
	m := newManifest()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	for _, s := range m.Segments {
		if len(s.Deleted) == 0 {
			continue
		}
		s.deleted = roaring.New()
		if err := s.deleted.UnmarshalBinary(s.Deleted); err != nil {
			return nil, fmt.Errorf("decoding deletions of segment %d: %w", s.ID, err)
		}
		s.Deleted = nil
	}
	return m, nil
}

// save writes the manifest to a temp file, syncs it and renames it over
// the previous one.
func (m *Manifest) save(dir string) error {
	for _, s := range m.Segments {
		s.Deleted = nil
		if s.deleted == nil || s.deleted.IsEmpty() {
			continue
		}
		s.deleted.RunOptimize()
		data, err := s.deleted.ToBytes()
		if err != nil {
			return fmt.Errorf("encoding deletions of segment %d: %w", s.ID, err)
		}
		s.Deleted = data
	}
	data, err := json.MarshalIndent(m, "", "  ")
	for _, s := range m.Segments {
		s.Deleted = nil
	}
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	path := filepath.Join(dir, ManifestFilename)
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp manifest: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming manifest: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("%w: %w", errUnsynced, err)
	}
	return nil
}

var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening directory for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing directory: %w", err)
	}
	return nil
}
