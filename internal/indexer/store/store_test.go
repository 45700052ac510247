package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/segment"
)

func openStore(t *testing.T, dir string, opts Options) *Store {
	t.Helper()
	opts.Create = true
	if opts.LockTimeout == 0 {
		opts.LockTimeout = 200 * time.Millisecond
	}
	s, err := Open(context.Background(), dir, opts)
	require.NoError(t, err)
	return s
}

func upsert(t *testing.T, s *Store, docs ...index.Document) {
	t.Helper()
	err := s.Update(context.Background(), func(w *Writer) error {
		for _, d := range docs {
			if err := w.Upsert(d); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func doc(key, content string) index.Document {
	return index.NewDocument(key, index.StringPtr(content))
}

func get(t *testing.T, s *Store, key string) (index.Document, bool) {
	t.Helper()
	snap, err := s.Snapshot()
	require.NoError(t, err)
	defer snap.Close()
	d, ok, err := snap.Get(key)
	require.NoError(t, err)
	return d, ok
}

func TestOpen_NotFound(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "missing"), Options{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_Locked(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, Options{})
	defer s.Close()

	_, err := Open(context.Background(), dir, Options{Create: true, LockTimeout: 50 * time.Millisecond})
	assert.ErrorIs(t, err, ErrLocked)
}

func TestUpsert_Replaces(t *testing.T) {
	s := openStore(t, t.TempDir(), Options{})
	defer s.Close()

	upsert(t, s, doc("k", "first version"))
	upsert(t, s, doc("k", "second version"))

	d, ok := get(t, s, "k")
	require.True(t, ok)
	assert.Equal(t, "second version", *d.Content)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.LiveDocs)
	assert.Equal(t, uint64(2), stats.Generation)
}

func TestUpsert_SameKeyTwiceInOneCommit(t *testing.T) {
	s := openStore(t, t.TempDir(), Options{})
	defer s.Close()

	upsert(t, s, doc("k", "a"), doc("k", "b"))
	d, ok := get(t, s, "k")
	require.True(t, ok)
	assert.Equal(t, "b", *d.Content)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.LiveDocs)
}

func TestUpsert_RejectsEmptyKey(t *testing.T) {
	s := openStore(t, t.TempDir(), Options{})
	defer s.Close()

	err := s.Update(context.Background(), func(w *Writer) error {
		return w.Upsert(index.Document{})
	})
	assert.ErrorIs(t, err, index.ErrEmptyKey)
}

func TestDelete_Idempotent(t *testing.T) {
	s := openStore(t, t.TempDir(), Options{})
	defer s.Close()

	upsert(t, s, doc("a", "x"), doc("b", "y"))
	for i := 0; i < 2; i++ {
		err := s.Update(context.Background(), func(w *Writer) error { return w.Delete("a") })
		require.NoError(t, err)
	}
	err := s.Update(context.Background(), func(w *Writer) error { return w.Delete("never-existed") })
	require.NoError(t, err)

	_, ok := get(t, s, "a")
	assert.False(t, ok)
	_, ok = get(t, s, "b")
	assert.True(t, ok)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.LiveDocs)
	assert.Equal(t, 1, stats.DeletedDocs)
	assert.Equal(t, uint64(2), stats.Generation, "no-op deletes do not publish a version")
}

func TestDeleteAll(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, Options{})
	upsert(t, s, doc("a", "x"), doc("b", "y"))
	upsert(t, s, doc("c", "z"))

	err := s.Update(context.Background(), func(w *Writer) error { return w.DeleteAll() })
	require.NoError(t, err)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.LiveDocs)
	assert.Zero(t, stats.Segments)

	upsert(t, s, doc("d", "fresh"))
	_, ok := get(t, s, "d")
	assert.True(t, ok)
	require.NoError(t, s.Close())

	files, err := filepath.Glob(filepath.Join(dir, "*"+segment.FileExt))
	require.NoError(t, err)
	assert.Len(t, files, 1, "cleared segments are removed from disk")
}

func TestDeleteAll_ThenUpsertInSameWriter(t *testing.T) {
	s := openStore(t, t.TempDir(), Options{})
	defer s.Close()
	upsert(t, s, doc("a", "x"))

	err := s.Update(context.Background(), func(w *Writer) error {
		require.NoError(t, w.Upsert(doc("b", "y")))
		require.NoError(t, w.DeleteAll())
		return w.Upsert(doc("c", "z"))
	})
	require.NoError(t, err)

	_, ok := get(t, s, "a")
	assert.False(t, ok)
	_, ok = get(t, s, "b")
	assert.False(t, ok)
	_, ok = get(t, s, "c")
	assert.True(t, ok)
}

func TestWriter_CloseDiscards(t *testing.T) {
	s := openStore(t, t.TempDir(), Options{})
	defer s.Close()

	w, err := s.Writer(context.Background())
	require.NoError(t, err)
	require.NoError(t, w.Upsert(doc("a", "x")))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Upsert(doc("b", "y")), ErrWriterClosed)

	_, ok := get(t, s, "a")
	assert.False(t, ok)
}

func TestWriter_HonoursContext(t *testing.T) {
	s := openStore(t, t.TempDir(), Options{})
	defer s.Close()

	w, err := s.Writer(context.Background())
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Writer(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSnapshot_Isolation(t *testing.T) {
	s := openStore(t, t.TempDir(), Options{MaxSegmentsBeforeMerge: 2})
	defer s.Close()

	upsert(t, s, doc("a", "old"))
	snap, err := s.Snapshot()
	require.NoError(t, err)

	upsert(t, s, doc("a", "new"))
	upsert(t, s, doc("b", "x"))
	upsert(t, s, doc("c", "y"))
	require.NoError(t, s.Update(context.Background(), func(w *Writer) error { return w.DeleteAll() }))

	d, ok, err := snap.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "old", *d.Content)
	assert.Equal(t, 1, snap.LiveDocs())
	assert.Equal(t, uint64(1), snap.Generation())
	require.NoError(t, snap.Close())
	require.NoError(t, snap.Close())
}

func TestReopen_Durable(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, Options{Compression: segment.CompressionZSTD})
	upsert(t, s, doc("a", "alpha"), doc("b", "beta"))
	require.NoError(t, s.Update(context.Background(), func(w *Writer) error { return w.Delete("a") }))
	require.NoError(t, s.Close())

	// leftovers of an interrupted commit
	require.NoError(t, os.WriteFile(filepath.Join(dir, segment.FileName(99)), []byte("junk"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seg_100.spdx.tmp"), []byte("junk"), 0644))

	s, err := Open(context.Background(), dir, Options{})
	require.NoError(t, err)
	defer s.Close()

	_, ok := get(t, s, "a")
	assert.False(t, ok)
	d, ok := get(t, s, "b")
	require.True(t, ok)
	assert.Equal(t, "beta", *d.Content)

	_, err = os.Stat(filepath.Join(dir, segment.FileName(99)))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "seg_100.spdx.tmp"))
	assert.True(t, os.IsNotExist(err))

	upsert(t, s, doc("c", "gamma"))
	snap, err := s.Snapshot()
	require.NoError(t, err)
	defer snap.Close()
	segs := snap.Segments()
	last := segs[len(segs)-1]
	assert.Greater(t, last.Entry(0).Seq, uint64(2), "sequence numbers continue after reopen")
}

func snapshotID(t *testing.T, s *Store) string {
	t.Helper()
	snap, err := s.Snapshot()
	require.NoError(t, err)
	defer snap.Close()
	return snap.IndexID()
}

func TestIndexID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	s := openStore(t, dir, Options{})
	id := snapshotID(t, s)
	require.NotEmpty(t, id)
	upsert(t, s, doc("a", "alpha"))
	assert.Equal(t, id, snapshotID(t, s), "commits keep the id")
	require.NoError(t, s.Close())

	s = openStore(t, dir, Options{})
	assert.Equal(t, id, snapshotID(t, s), "the id is durable")
	require.NoError(t, s.Close())

	require.NoError(t, os.RemoveAll(dir))
	s = openStore(t, dir, Options{})
	defer s.Close()
	assert.NotEqual(t, id, snapshotID(t, s), "a recreated index gets a new id")
	assert.Empty(t, EmptySnapshot().IndexID())
}

func TestCommit_DirSyncFailureKeepsSegment(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, Options{})
	upsert(t, s, doc("a", "alpha"))

	orig := syncDir
	syncDir = func(string) error { return errors.New("sync failed") }
	err := s.Update(context.Background(), func(w *Writer) error { return w.Upsert(doc("b", "beta")) })
	syncDir = orig
	require.ErrorIs(t, err, errUnsynced)

	_, ok := get(t, s, "b")
	assert.True(t, ok, "a manifest that reached disk is published")
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), dir, Options{})
	require.NoError(t, err)
	defer s.Close()
	_, ok = get(t, s, "a")
	assert.True(t, ok)
	d, ok := get(t, s, "b")
	require.True(t, ok)
	assert.Equal(t, "beta", *d.Content)
}

func TestMerge(t *testing.T) {
	s := openStore(t, t.TempDir(), Options{MaxSegmentsBeforeMerge: 3})
	defer s.Close()

	for i := 0; i < 3; i++ {
		upsert(t, s, doc(fmt.Sprintf("k%d", i), "body"), doc(fmt.Sprintf("x%d", i), "other"))
	}
	assert.Equal(t, 3, s.SegmentCount())

	upsert(t, s, doc("k1", "replaced"))
	assert.Equal(t, 1, s.SegmentCount(), "exceeding the limit merges")

	snap, err := s.Snapshot()
	require.NoError(t, err)
	defer snap.Close()
	assert.Equal(t, 6, snap.LiveDocs())
	assert.Zero(t, snap.Stats().DeletedDocs)

	seg := snap.Segments()[0]
	var keys []string
	var last uint64
	for ord := uint32(0); ord < seg.DocCount(); ord++ {
		e := seg.Entry(ord)
		assert.Greater(t, e.Seq, last, "merge keeps insertion order")
		last = e.Seq
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"k0", "x0", "x1", "k2", "x2", "k1"}, keys)

	d, ok, err := snap.Get("k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "replaced", *d.Content)
}

func TestMerge_Explicit(t *testing.T) {
	s := openStore(t, t.TempDir(), Options{})
	defer s.Close()

	upsert(t, s, doc("a", "x"))
	upsert(t, s, doc("b", "y"))
	require.NoError(t, s.Update(context.Background(), func(w *Writer) error { return w.Delete("a") }))
	require.NoError(t, s.Merge(context.Background()))
	assert.Equal(t, 1, s.SegmentCount())

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.LiveDocs)
}

func TestAvgFieldLength_IgnoresDeleted(t *testing.T) {
	s := openStore(t, t.TempDir(), Options{})
	defer s.Close()

	upsert(t, s, doc("a", "one two three four"), doc("b", "one two"))
	require.NoError(t, s.Update(context.Background(), func(w *Writer) error { return w.Delete("a") }))

	snap, err := s.Snapshot()
	require.NoError(t, err)
	defer snap.Close()
	assert.Equal(t, 2.0, snap.AvgFieldLength(index.FieldContent))
	assert.Equal(t, 1.0, snap.AvgFieldLength(index.FieldName))
}

func TestConcurrentWritersAndReaders(t *testing.T) {
	s := openStore(t, t.TempDir(), Options{MaxSegmentsBeforeMerge: 4})
	defer s.Close()

	const writers, perWriter = 4, 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				err := s.Update(context.Background(), func(wr *Writer) error {
					return wr.Upsert(doc(fmt.Sprintf("w%d-%d", w, i), "text"))
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				snap, err := s.Snapshot()
				if !assert.NoError(t, err) {
					return
				}
				n := 0
				for _, seg := range snap.Segments() {
					n += seg.LiveCount()
				}
				assert.Equal(t, snap.LiveDocs(), n)
				snap.Close()
			}
		}()
	}
	wg.Wait()

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, stats.LiveDocs)
}

func TestClosed(t *testing.T) {
	s := openStore(t, t.TempDir(), Options{})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Snapshot()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Writer(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
