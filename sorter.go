// Package extsort implements an external-memory sorter: a pipeline stage
// that accepts records one at a time, buffers and sorts them in memory,
// spills to disk under configured limits or host memory pressure, and
// streams the fully merged result to a downstream Processor on Close.
package extsort

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/nyxsort/extsort/merge"
	"github.com/nyxsort/extsort/pressure"
	"github.com/nyxsort/extsort/spill"
)

// Stage is an external-memory sorter for records of type T. The zero value
// is not usable; construct one with New. A Stage must not be used after
// Close returns.
type Stage[T any] struct {
	cfg      *Config
	less     Comparator[T]
	reduce   Reducer[T]
	codec    Codec[T]
	down     Processor[T]
	notifier pressure.Notifier

	mu       sync.Mutex
	ingest   []T
	runs     [][]T
	runCount int
	closed   bool

	spillMgr *spill.Manager[T]
	pressureFlag atomic.Bool

	pressureCh <-chan struct{}
	group      *errgroup.Group
}

// New constructs a Stage. less defines the total order records are sorted
// under; reduce may be nil, in which case no reduction is applied. codec
// serializes records that are spilled to disk. down receives the sorted
// output on Close. cfg may be nil to accept every default.
//
// New fails if the host provides no compatible memory-notification
// facility and cfg does not supply an explicit MemoryCeilingBytes.
func New[T any](less Comparator[T], reduce Reducer[T], codec Codec[T], down Processor[T], cfg *Config) (*Stage[T], error) {
	cfg = mergeConfig(cfg)

	notifier, err := pressure.NewHeapPoller(cfg.MemoryCeilingBytes, 0)
	if err != nil {
		return nil, NewConfigError("MemoryCeilingBytes", cfg.MemoryCeilingBytes, err.Error())
	}
	return newStage(less, reduce, codec, down, cfg, notifier)
}

// newStage does the real construction work against an already-built
// Notifier, so tests can substitute pressure.Manual for the default
// HeapPoller without going through a real memory ceiling.
func newStage[T any](less Comparator[T], reduce Reducer[T], codec Codec[T], down Processor[T], cfg *Config, notifier pressure.Notifier) (*Stage[T], error) {
	ch, err := notifier.Subscribe(cfg.MemoryThresholdFraction)
	if err != nil {
		return nil, NewConfigError("MemoryThresholdFraction", cfg.MemoryThresholdFraction, err.Error())
	}

	s := &Stage[T]{
		cfg:        cfg,
		less:       less,
		reduce:     reduce,
		codec:      codec,
		down:       down,
		notifier:   notifier,
		pressureCh: ch,
		spillMgr:   spill.New[T](cfg.TempDir, cfg.FilenamePrefix, codec, merge.Comparator[T](less), cfg.FileLimit, cfg.CombineBufferSize, cfg.Logger),
	}

	s.group, _ = errgroup.WithContext(context.Background())
	s.group.Go(s.pressureWorker)

	return s, nil
}

// pressureWorker runs on its own goroutine for the Stage's lifetime; it is
// the only place a spill is ever triggered off the producer's own call
// stack, so the notifier's own goroutine is never blocked on I/O. It takes
// the same mutex as Process, so a spill it triggers waits for any Process
// call already in progress.
func (s *Stage[T]) pressureWorker() error {
	for range s.pressureCh {
		s.pressureFlag.Store(true)
		s.mu.Lock()
		if !s.closed {
			if err := s.flushLocked(); err != nil {
				s.mu.Unlock()
				return err
			}
		}
		s.mu.Unlock()
	}
	return nil
}

// Process appends v to the stage. It returns ErrClosed if called after
// Close.
func (s *Stage[T]) Process(v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.ingest = append(s.ingest, v)
	if s.needsFlush() {
		if err := s.flushLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stage[T]) needsFlush() bool {
	if s.pressureFlag.Load() {
		return true
	}
	if len(s.ingest) > s.cfg.ReduceInterval {
		return true
	}
	return s.totalRecordsLocked() > s.cfg.ObjectLimit
}

func (s *Stage[T]) totalRecordsLocked() int {
	return len(s.ingest) + s.runCount
}

// flushLocked performs a reduce and, if the flush condition still holds
// afterward, a spill. Called under mu, from both Process and the pressure
// worker.
func (s *Stage[T]) flushLocked() error {
	s.reduceLocked()
	if s.needsFlush() {
		if err := s.spillLocked(); err != nil {
			return err
		}
	}
	return nil
}

// reduceLocked seals the ingest buffer into a new sorted run, applying the
// configured reducer if any.
func (s *Stage[T]) reduceLocked() {
	if len(s.ingest) == 0 {
		return
	}
	batch := s.ingest
	sort.Slice(batch, func(i, j int) bool { return s.less(batch[i], batch[j]) })
	if s.reduce != nil {
		batch = s.reduce(batch)
	}
	s.runs = append(s.runs, batch)
	s.runCount += len(batch)
	s.cfg.Logger.Debug().Int("records", len(batch)).Int("runs", len(s.runs)).Msg("reduced ingest buffer")
	s.ingest = nil
}

// spillLocked reduces, then streams the entire run pool through the k-way
// merger straight into a new run file, clearing both the run pool and the
// pressure flag. The merge is never materialized in memory: its sink is
// the run file's own writer.
func (s *Stage[T]) spillLocked() error {
	s.reduceLocked()
	if s.runCount == 0 {
		s.pressureFlag.Store(false)
		return nil
	}

	cursors := make([]merge.Cursor[T], 0, len(s.runs))
	for _, r := range s.runs {
		cursors = append(cursors, merge.NewSliceCursor(r))
	}

	if err := s.spillMgr.SpillCursors(cursors); err != nil {
		return NewSpillError(err, "")
	}

	s.runs = nil
	s.runCount = 0
	s.pressureFlag.Store(false)
	return nil
}

// Close flushes any remaining in-memory records, performs the final
// cascading compaction and merge, streams the result to the downstream
// Processor, and releases every temporary file the Stage created. Close
// must be called exactly once, and Process must not be called afterward.
func (s *Stage[T]) Close() error {
	s.notifier.Unsubscribe()
	if err := s.group.Wait(); err != nil {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		_ = s.spillMgr.RemoveAll()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true

	s.reduceLocked()

	if !s.spillMgr.HasSpills() {
		return s.emitFromMemory()
	}
	return s.emitFromDisk()
}

// emitFromMemory merges the in-memory run pool directly to the downstream
// processor; used when the stage never spilled.
func (s *Stage[T]) emitFromMemory() error {
	cursors := make([]merge.Cursor[T], 0, len(s.runs))
	for _, r := range s.runs {
		cursors = append(cursors, merge.NewSliceCursor(r))
	}
	s.runs = nil
	s.runCount = 0

	if err := s.runFinalMerge(cursors); err != nil {
		return err
	}
	return s.down.Close()
}

// emitFromDisk spills any residual in-memory runs, compacts the spill set
// to the fan-in bound, and merges every remaining run file to the
// downstream processor.
func (s *Stage[T]) emitFromDisk() error {
	if s.runCount > 0 {
		if err := s.spillLocked(); err != nil {
			return err
		}
	}

	if err := s.spillMgr.CompactToFanIn(); err != nil {
		_ = s.spillMgr.RemoveAll()
		return NewMergeError(err)
	}

	cursors, err := s.spillMgr.FinalCursors()
	if err != nil {
		return NewMergeError(err)
	}

	if err := s.runFinalMerge(cursors); err != nil {
		s.spillMgr.CloseCursors(cursors)
		return err
	}
	return s.down.Close()
}

func (s *Stage[T]) runFinalMerge(cursors []merge.Cursor[T]) error {
	err := merge.Run(cursors, merge.Comparator[T](s.less), func(v T) error {
		return s.down.Process(v)
	})
	if err != nil {
		return fmt.Errorf("extsort: final merge: %w", err)
	}
	return nil
}
