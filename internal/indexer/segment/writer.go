// Package segment reads and writes immutable .spdx segment files. A segment
// holds the postings, stored documents and per-document metadata of one
// commit or merge.
package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
)

// MagicBytes identifies a valid .spdx segment file.
const (
	MagicBytes    uint32 = 0x53504458
	FormatVersion uint32 = 2
	HeaderSize    int    = 64
	FooterSize    int    = 32
	FileExt              = ".spdx"
)

// SegmentHeader is the 64-byte header written at the start of every segment.
type SegmentHeader struct {
	Magic          uint32
	Version        uint32
	TermCount      uint32
	DocCount       uint32
	CreatedAt      int64
	Compression    Compression
	DocTableOffset int64
	DocTableSize   int64
	DictOffset     int64
	DictSize       int64
}

// DictEntry maps a (field, term) pair to its postings offset, length, and
// document frequency in the segment file.
type DictEntry struct {
	Field      string `json:"f"`
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
}

// docTableEntry locates the stored block of one document.
type docTableEntry struct {
	index.DocEntry
	BlockOffset int64 `json:"o"`
	BlockLen    int   `json:"n"`
}

// FileName returns the file name of segment id.
func FileName(id uint64) string {
	return fmt.Sprintf("seg_%d%s", id, FileExt)
}

// Writer serialises documents and term entries into new segment files.
type Writer struct {
	dataDir     string
	compression Compression
}

// NewWriter creates a Writer that writes segments into the given directory.
func NewWriter(dataDir string, compression Compression) *Writer {
	return &Writer{dataDir: dataDir, compression: compression}
}

// Write atomically creates segment id from docs and entries. Posting
// ordinals in entries index into docs. It writes to a .tmp file first and
// renames on success.
func (w *Writer) Write(id uint64, docs []index.StoredDoc, entries []index.TermEntry) (string, error) {
	if len(docs) == 0 {
		return "", fmt.Errorf("cannot write empty segment")
	}
	segmentName := FileName(id)
	finalPath := filepath.Join(w.dataDir, segmentName)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	committed := false
	defer func() {
		f.Close()
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	header := SegmentHeader{
		Magic:       MagicBytes,
		Version:     FormatVersion,
		TermCount:   uint32(len(entries)),
		DocCount:    uint32(len(docs)),
		CreatedAt:   time.Now().Unix(),
		Compression: w.compression,
	}
	if _, err := f.Write(make([]byte, HeaderSize)); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}

	postingsStart := int64(HeaderSize)
	dict := make([]DictEntry, 0, len(entries))
	offset := postingsStart
	for _, entry := range entries {
		postingsData, err := json.Marshal(entry.Postings)
		if err != nil {
			return "", fmt.Errorf("marshaling postings for %s:%q: %w", entry.Field, entry.Term, err)
		}
		if _, err := f.Write(postingsData); err != nil {
			return "", fmt.Errorf("writing postings for %s:%q: %w", entry.Field, entry.Term, err)
		}
		dict = append(dict, DictEntry{
			Field:      entry.Field,
			Term:       entry.Term,
			PostOffset: offset - postingsStart,
			PostLen:    len(postingsData),
			DocFreq:    len(entry.Postings),
		})
		offset += int64(len(postingsData))
	}
	postingsSize := offset - postingsStart

	table := make([]docTableEntry, 0, len(docs))
	for _, d := range docs {
		raw, err := json.Marshal(d.Doc)
		if err != nil {
			return "", fmt.Errorf("marshaling document %q: %w", d.Entry.Key, err)
		}
		block, err := compressBlock(raw, w.compression)
		if err != nil {
			return "", fmt.Errorf("compressing document %q: %w", d.Entry.Key, err)
		}
		if _, err := f.Write(block); err != nil {
			return "", fmt.Errorf("writing document %q: %w", d.Entry.Key, err)
		}
		table = append(table, docTableEntry{DocEntry: d.Entry, BlockOffset: offset, BlockLen: len(block)})
		offset += int64(len(block))
	}

	tableData, err := json.Marshal(table)
	if err != nil {
		return "", fmt.Errorf("marshaling document table: %w", err)
	}
	if _, err := f.Write(tableData); err != nil {
		return "", fmt.Errorf("writing document table: %w", err)
	}
	header.DocTableOffset = offset
	header.DocTableSize = int64(len(tableData))
	offset += header.DocTableSize

	dictData, err := json.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("marshaling dictionary: %w", err)
	}
	if _, err := f.Write(dictData); err != nil {
		return "", fmt.Errorf("writing dictionary: %w", err)
	}
	header.DictOffset = offset
	header.DictSize = int64(len(dictData))

	checksum := crc32.NewIEEE()
	checksum.Write(tableData)
	checksum.Write(dictData)
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], checksum.Sum32())
	binary.LittleEndian.PutUint32(footer[4:8], header.DocCount)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(postingsStart))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(postingsSize))
	binary.LittleEndian.PutUint64(footer[24:32], id)
	if _, err := f.Write(footer); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}
	if _, err := f.WriteAt(encodeHeader(header), 0); err != nil {
		return "", fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing segment file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	committed = true
	return segmentName, nil
}

func encodeHeader(h SegmentHeader) []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.TermCount)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint32(b[24:28], uint32(h.Compression))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.DocTableOffset))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.DocTableSize))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[56:64], uint64(h.DictSize))
	return b
}

func decodeHeader(r io.ReaderAt) (SegmentHeader, error) {
	b := make([]byte, HeaderSize)
	if _, err := r.ReadAt(b, 0); err != nil {
		return SegmentHeader{}, fmt.Errorf("reading header: %w", err)
	}
	h := SegmentHeader{
		Magic:          binary.LittleEndian.Uint32(b[0:4]),
		Version:        binary.LittleEndian.Uint32(b[4:8]),
		TermCount:      binary.LittleEndian.Uint32(b[8:12]),
		DocCount:       binary.LittleEndian.Uint32(b[12:16]),
		CreatedAt:      int64(binary.LittleEndian.Uint64(b[16:24])),
		Compression:    Compression(binary.LittleEndian.Uint32(b[24:28])),
		DocTableOffset: int64(binary.LittleEndian.Uint64(b[32:40])),
		DocTableSize:   int64(binary.LittleEndian.Uint64(b[40:48])),
		DictOffset:     int64(binary.LittleEndian.Uint64(b[48:56])),
		DictSize:       int64(binary.LittleEndian.Uint64(b[56:64])),
	}
	if h.Magic != MagicBytes {
		return h, fmt.Errorf("invalid segment file: bad magic bytes %x", h.Magic)
	}
	if h.Version != FormatVersion {
		return h, fmt.Errorf("unsupported segment version %d", h.Version)
	}
	return h, nil
}
