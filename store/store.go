// Package store persists named JSON collections and serializes every
// mutation of a collection through a per-path queue.
//
// A collection is an ordered list of untyped documents stored as a single
// JSON array. Reads go straight to the engine. Writes and updates are queued
// so that, within one process, at most one mutation per collection runs at a
// time and every update observes all updates submitted before it.
//
// The queue lives in memory. Two processes writing the same data directory
// are not coordinated; Options.SingleWriter makes the second one fail at
// Open instead of silently losing updates.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/stevemurr/fansite-store/metrics"
)

// Transform maps the current content of a collection to its next content.
// Returning an error aborts the update without writing anything.
type Transform func(Collection) (Collection, error)

// Options configures Open.
type Options struct {
	// Backend selects an engine via NewEngine. Ignored if Engine is set.
	Backend string
	Engine  Engine

	// Queue lets several stores share one serialization registry. A fresh
	// queue is created when nil.
	Queue *Queue

	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics

	// SingleWriter takes an exclusive lock file in the data directory.
	SingleWriter bool
}

// Store is the only sanctioned way to mutate collections. Every Write and
// Update for a collection is run through the queue.
type Store struct {
	dir     string
	engine  Engine
	queue   *Queue
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
	lock    *flock.Flock
}

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Open prepares dir and returns a Store over it.
func Open(dir string, opts Options) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Store{
		dir:     abs,
		engine:  opts.Engine,
		queue:   opts.Queue,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
	if s.queue == nil {
		s.queue = NewQueue()
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}

	if opts.SingleWriter {
		if s.lock, err = acquireDirLock(abs); err != nil {
			return nil, err
		}
	}
	if s.engine == nil {
		if s.engine, err = NewEngine(opts.Backend, abs); err != nil {
			s.unlock()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the engine and releases the directory lock.
func (s *Store) Close() error {
	err := s.engine.Close()
	s.unlock()
	return err
}

func (s *Store) unlock() {
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
}

// Dir returns the absolute data directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the absolute path backing collection name.
func (s *Store) Path(name string) (string, error) {
	if !namePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCollection, name)
	}
	return filepath.Join(s.dir, name+Ext), nil
}

// Read returns the current content of a collection. A collection that was
// never written is empty.
func (s *Store) Read(name string) (Collection, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	c, err := s.engine.Read(path)
	s.metrics.ObserveOp("read", name, time.Since(start), err)
	if err != nil {
		s.logFailure("read", name, err)
		return nil, err
	}
	return c, nil
}

// Write replaces a collection wholesale. It waits behind any queued
// operation on the same collection.
func (s *Store) Write(name string, c Collection) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	return s.enqueue(context.Background(), "write", name, path, func() error {
		return s.engine.Write(path, c)
	})
}

// Update reads, transforms and writes a collection as one queued unit and
// returns the written content.
func (s *Store) Update(name string, fn Transform) (Collection, error) {
	return s.UpdateContext(context.Background(), name, fn)
}

// UpdateContext is Update that stops waiting when ctx is done. The update
// itself stays queued and still runs; only the caller gives up on the
// result.
func (s *Store) UpdateContext(ctx context.Context, name string, fn Transform) (Collection, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	var out Collection
	err = s.enqueue(ctx, "update", name, path, func() error {
		cur, err := s.engine.Read(path)
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return &TransformError{Collection: name, Err: err}
		}
		if next == nil {
			next = Collection{}
		}
		if err := s.engine.Write(path, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) enqueue(ctx context.Context, op, name, path string, fn func() error) error {
	submitted := time.Now()
	s.metrics.QueueAdd(name, 1)
	done := s.queue.Submit(path, func() (err error) {
		started := time.Now()
		s.metrics.ObserveQueueWait(started.Sub(submitted))
		defer func() {
			s.metrics.QueueAdd(name, -1)
			s.metrics.ObserveOp(op, name, time.Since(started), err)
			if err != nil {
				s.logFailure(op, name, err)
			} else {
				s.log.Debugw("collection committed", "op", op, "collection", name,
					"duration_ms", float64(time.Since(started).Microseconds())/1000)
			}
		}()
		return fn()
	})

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.log.Warnw("caller stopped waiting, operation stays queued",
			"op", op, "collection", name, "error", ctx.Err())
		return ctx.Err()
	}
}

func (s *Store) logFailure(op, name string, err error) {
	var (
		decodeErr    *DecodeError
		writeErr     *WriteError
		transformErr *TransformError
	)
	switch {
	case errors.As(err, &transformErr):
		s.log.Debugw("transform rejected update", "collection", name, "error", err)
	case errors.As(err, &decodeErr):
		s.log.Errorw("collection content is corrupt", "op", op, "collection", name, "path", decodeErr.Path, "error", err)
	case errors.As(err, &writeErr):
		s.log.Errorw("collection write failed", "collection", name, "step", writeErr.Op, "error", err)
	default:
		s.log.Errorw("store operation failed", "op", op, "collection", name, "error", err)
	}
}

// Collections returns the names of stored collections, sorted.
func (s *Store) Collections() ([]string, error) {
	paths, err := s.engine.List()
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, p := range paths {
		if filepath.Dir(p) != s.dir || !strings.HasSuffix(p, Ext) {
			continue
		}
		name := strings.TrimSuffix(filepath.Base(p), Ext)
		if namePattern.MatchString(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
