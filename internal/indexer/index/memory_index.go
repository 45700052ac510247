package index

import (
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/tokenizer"
)

// StoredDoc is a document together with the metadata written for it.
type StoredDoc struct {
	Entry DocEntry
	Doc   Document
}

type pendingDoc struct {
	doc     Document
	seq     uint64
	removed bool
}

// MemoryIndex buffers documents until they are flushed as one segment.
// Adding a key that is already buffered replaces the earlier copy.
type MemoryIndex struct {
	mu    sync.RWMutex
	docs  []pendingDoc
	byKey map[string]int
	live  int
	size  int64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		byKey: make(map[string]int),
	}
}

// AddDocument buffers doc under sequence number seq.
func (m *MemoryIndex) AddDocument(doc Document, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, exists := m.byKey[doc.Key]; exists && !m.docs[idx].removed {
		m.docs[idx].removed = true
		m.live--
	}
	m.byKey[doc.Key] = len(m.docs)
	m.docs = append(m.docs, pendingDoc{doc: doc, seq: seq})
	m.live++
	m.size += int64(len(doc.Key) + len(doc.Name) + 64)
	if doc.Content != nil {
		m.size += int64(len(*doc.Content))
	}
}

// Remove drops a buffered document. It reports whether one was buffered.
func (m *MemoryIndex) Remove(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, exists := m.byKey[key]
	if !exists || m.docs[idx].removed {
		return false
	}
	m.docs[idx].removed = true
	m.live--
	delete(m.byKey, key)
	return true
}

// Contains reports whether key is currently buffered.
func (m *MemoryIndex) Contains(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, exists := m.byKey[key]
	return exists && !m.docs[idx].removed
}

// Snapshot returns the live buffered documents in insertion order together
// with the postings of every tokenized field, sorted by field then term.
// A document's position in the returned slice is its ordinal in postings.
func (m *MemoryIndex) Snapshot() ([]StoredDoc, []TermEntry) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make([]StoredDoc, 0, m.live)
	type fieldTerm struct{ field, term string }
	postings := make(map[fieldTerm]PostingList)

	for _, p := range m.docs {
		if p.removed {
			continue
		}
		ordinal := uint32(len(docs))
		entry := DocEntry{
			Key:          p.doc.Key,
			Seq:          p.seq,
			FieldLengths: make(map[string]int),
		}
		for _, field := range TokenizedFields() {
			text, ok := p.doc.FieldValue(field)
			if !ok {
				continue
			}
			tokens := tokenizer.Tokenize(text)
			entry.FieldLengths[field] = len(tokens)

			freqs := make(map[string]int)
			for _, tok := range tokens {
				freqs[tok.Term]++
			}
			for term, freq := range freqs {
				key := fieldTerm{field, term}
				postings[key] = append(postings[key], Posting{Doc: ordinal, Frequency: freq})
			}
		}
		docs = append(docs, StoredDoc{Entry: entry, Doc: p.doc})
	}

	entries := make([]TermEntry, 0, len(postings))
	for key, list := range postings {
		entries = append(entries, TermEntry{
			Field:    key.field,
			Term:     key.term,
			Postings: list,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Field != entries[j].Field {
			return entries[i].Field < entries[j].Field
		}
		return entries[i].Term < entries[j].Term
	})
	return docs, entries
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// DocCount returns the number of live buffered documents.
func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = nil
	m.byKey = make(map[string]int)
	m.live = 0
	m.size = 0
}
