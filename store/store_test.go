package store_test

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

	"github.com/stevemurr/fansite-store/metrics"
	"github.com/stevemurr/fansite-store/store"
)

func openStore(t *testing.T, opts store.Options) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func incrementViews(doc store.Document) error {
	views, _ := doc["views"].(float64)
	doc["views"] = views + 1
	return nil
}

func TestUpdateNoLostUpdates(t *testing.T) {
	for _, backend := range []string{"json", "sqlite", "bolt", "memory"} {
		t.Run(backend, func(t *testing.T) {
			s := openStore(t, store.Options{Backend: backend, Metrics: metrics.New()})
			require.NoError(t, s.Write("counters", store.Collection{{"id": "c", "count": float64(0)}}))

			const n = 100
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.Update("counters", store.ModifyByID("c", func(doc store.Document) error {
						count, _ := doc["count"].(float64)
						// widen the read-modify-write window
						time.Sleep(50 * time.Microsecond)
						doc["count"] = count + 1
						return nil
					}))
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			got, err := s.Read("counters")
			require.NoError(t, err)
			assert.Equal(t, float64(n), got.Find("c")["count"])
		})
	}
}

func TestUpdateNewsViewsScenario(t *testing.T) {
	s := openStore(t, store.Options{})
	require.NoError(t, s.Write("news", store.Collection{{"id": "1", "views": float64(5)}}))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update("news", store.ModifyByID("1", incrementViews))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Read("news")
	require.NoError(t, err)
	assert.Equal(t, store.Collection{{"id": "1", "views": float64(7)}}, got)

	raw, err := os.ReadFile(filepath.Join(s.Dir(), "news.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"views": 7`)
}

func TestUpdateAcrossCollectionsIsParallel(t *testing.T) {
	s := openStore(t, store.Options{})
	otherDone := make(chan struct{})

	slow := make(chan error, 1)
	go func() {
		_, err := s.Update("gallery", func(c store.Collection) (store.Collection, error) {
			// holds the gallery chain until music has committed
			select {
			case <-otherDone:
				return append(c, store.Document{"id": "g"}), nil
			case <-time.After(5 * time.Second):
				return nil, errors.New("music update was serialized behind gallery")
			}
		})
		slow <- err
	}()

	// give the gallery update a head start so it is running
	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	_, err := s.Update("music", store.Append(store.Document{"id": "m"}))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	close(otherDone)

	require.NoError(t, <-slow)
}

func TestUpdateTransformErrorWritesNothing(t *testing.T) {
	s := openStore(t, store.Options{})
	require.NoError(t, s.Write("schedule", store.Collection{{"id": "e1", "title": "Fan meeting"}}))
	path, err := s.Path("schedule")
	require.NoError(t, err)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	rejected := errors.New("date in the past")
	_, err = s.Update("schedule", func(c store.Collection) (store.Collection, error) {
		c[0]["title"] = "mutated"
		return nil, rejected
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, rejected)
	var transformErr *store.TransformError
	require.True(t, errors.As(err, &transformErr))
	assert.Equal(t, "schedule", transformErr.Collection)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// the chain keeps going
	got, err := s.Update("schedule", store.RemoveByID("e1"))
	require.NoError(t, err)
	assert.Len(t, got, 0)
}

func TestUpdateSeesPreviousUpdate(t *testing.T) {
	s := openStore(t, store.Options{})
	_, err := s.Update("members", store.Append(store.Document{"id": "m1", "name": "Aki"}))
	require.NoError(t, err)
	got, err := s.Update("members", store.Append(store.Document{"id": "m2", "name": "Rin"}))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].ID())
	assert.Equal(t, "m2", got[1].ID())
}

func TestReadMissingCollection(t *testing.T) {
	s := openStore(t, store.Options{})
	c, err := s.Read("carousel")
	require.NoError(t, err)
	assert.Len(t, c, 0)
}

func TestDecodeErrorSurfaces(t *testing.T) {
	s := openStore(t, store.Options{})
	path, err := s.Path("users")
	require.NoError(t, err)
	corrupt := []byte(`[{"id": "u1", "email": `)
	require.NoError(t, os.WriteFile(path, corrupt, 0o644))

	_, err = s.Read("users")
	var decodeErr *store.DecodeError
	require.True(t, errors.As(err, &decodeErr), "got %v", err)

	_, err = s.Update("users", store.Append(store.Document{"id": "u2"}))
	require.True(t, errors.As(err, &decodeErr), "got %v", err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, corrupt, raw, "corrupt file must not be replaced")
}

func TestWriteErrorSurfacesThroughUpdate(t *testing.T) {
	dir := t.TempDir()
	e, err := store.NewFileEngine(dir)
	require.NoError(t, err)
	s, err := store.Open(dir, store.Options{Engine: e})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write("music", store.Collection{{"id": "v1"}}))
	store.SetRename(e, func(string, string) error { return errors.New("read-only fs") })

	_, err = s.Update("music", store.Append(store.Document{"id": "v2"}))
	var writeErr *store.WriteError
	require.True(t, errors.As(err, &writeErr), "got %v", err)

	store.SetRename(e, os.Rename)
	got, err := s.Read("music")
	require.NoError(t, err)
	assert.Equal(t, store.Collection{{"id": "v1"}}, got)
}

func TestInvalidCollectionNames(t *testing.T) {
	s := openStore(t, store.Options{})
	for _, name := range []string{"", "../etc/passwd", "a/b", "News", "_private", ".hidden", "x.json"} {
		_, err := s.Read(name)
		assert.ErrorIs(t, err, store.ErrInvalidCollection, name)
		_, err = s.Update(name, store.Append(store.Document{}))
		assert.ErrorIs(t, err, store.ErrInvalidCollection, name)
		assert.ErrorIs(t, s.Write(name, nil), store.ErrInvalidCollection, name)
	}
}

func TestCollections(t *testing.T) {
	s := openStore(t, store.Options{})
	names, err := s.Collections()
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, name := range []string{"news", "carousel", "members"} {
		require.NoError(t, s.Write(name, nil))
	}
	names, err = s.Collections()
	require.NoError(t, err)
	assert.Equal(t, []string{"carousel", "members", "news"}, names)
}

func TestSharedQueueAcrossStores(t *testing.T) {
	dir := t.TempDir()
	q := store.NewQueue()
	a, err := store.Open(dir, store.Options{Queue: q})
	require.NoError(t, err)
	b, err := store.Open(dir, store.Options{Queue: q})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		s := a
		if i%2 == 1 {
			s = b
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Update("gallery", store.Append(store.Document{"id": fmt.Sprint(i)}))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := a.Read("gallery")
	require.NoError(t, err)
	assert.Len(t, got, 40)
	assert.Equal(t, 0, q.Len())
}

func TestUpdateContextStopsWaitingButStillRuns(t *testing.T) {
	s := openStore(t, store.Options{})
	gate := make(chan struct{})

	blocker := make(chan error, 1)
	go func() {
		_, err := s.Update("news", func(c store.Collection) (store.Collection, error) {
			<-gate
			return append(c, store.Document{"id": "first"}), nil
		})
		blocker <- err
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.UpdateContext(ctx, "news", store.Append(store.Document{"id": "second"}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)
	require.NoError(t, <-blocker)

	// a later update queues behind the abandoned one, so it sees it
	got, err := s.Update("news", store.Append(store.Document{"id": "third"}))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{got[0].ID(), got[1].ID(), got[2].ID()})
}

func TestSingleWriterLock(t *testing.T) {
	dir := t.TempDir()
	first, err := store.Open(dir, store.Options{SingleWriter: true})
	require.NoError(t, err)

	_, err = store.Open(dir, store.Options{SingleWriter: true})
	assert.ErrorIs(t, err, store.ErrLocked)

	require.NoError(t, first.Close())
	again, err := store.Open(dir, store.Options{SingleWriter: true})
	require.NoError(t, err)
	require.NoError(t, again.Close())
}
