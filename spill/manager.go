// Package spill manages the on-disk run files a sorter stage creates when
// its in-memory buffer is flushed under object-count or memory pressure.
// Each run is backed by its own file rather than a section of a shared one:
// the cascading compaction a stage performs at close time needs to delete
// individual run files as they are consumed, independently of their
// siblings, which a shared physical file cannot do.
package spill

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"github.com/nyxsort/extsort/merge"
)

// run is one spilled, already-sorted sequence of records backed by its own
// file on disk.
type run struct {
	path  string
	count int
}

// Manager owns the set of run files a stage has spilled and have not yet
// been consumed by the final merge. It is not safe for concurrent use; a
// Stage serializes all access to it under its own mutex.
type Manager[T any] struct {
	dir       string
	prefix    string
	codec     Codec[T]
	less      merge.Comparator[T]
	fileLimit int
	bufSize   int
	log       zerolog.Logger

	runs []run
}

// New constructs a Manager. dir is resolved once, at construction, via
// resolveDir; fileLimit bounds the fan-in of each compaction round.
// bufSize sizes the bufio buffer used for every run file's reads and
// writes; a value of zero or less falls back to fileBufferSize.
func New[T any](dir, prefix string, codec Codec[T], less merge.Comparator[T], fileLimit, bufSize int, log zerolog.Logger) *Manager[T] {
	if bufSize <= 0 {
		bufSize = fileBufferSize
	}
	return &Manager[T]{
		dir:       resolveDir(dir),
		prefix:    prefix,
		codec:     codec,
		less:      less,
		fileLimit: fileLimit,
		bufSize:   bufSize,
		log:       log,
	}
}

// HasSpills reports whether any run has been spilled and not yet consumed.
func (m *Manager[T]) HasSpills() bool {
	return len(m.runs) > 0
}

// Count returns the number of outstanding run files.
func (m *Manager[T]) Count() int {
	return len(m.runs)
}

// Spill writes records, which must already be sorted under less, to a new
// run file.
func (m *Manager[T]) Spill(records []T) error {
	return m.SpillCursors([]merge.Cursor[T]{merge.NewSliceCursor(records)})
}

// SpillCursors merges cursors, which together must form a single sorted run
// pool, straight into a new run file: the merge's sink is the file's own
// writer, so the merged result is never materialized in memory on its way
// to disk.
func (m *Manager[T]) SpillCursors(cursors []merge.Cursor[T]) error {
	merged, err := m.mergeCursorsToFile(cursors, nil)
	if err != nil {
		return fmt.Errorf("spill: spilling run pool: %w", err)
	}
	m.runs = append(m.runs, merged)
	m.log.Debug().Str("path", merged.path).Int("records", merged.count).Msg("spilled run")
	return nil
}

// CompactToFanIn cascades small-files-first merges until the number of
// outstanding run files is at most fileLimit, or there is nothing left to
// merge. Each round merges the fileLimit smallest runs (by record count)
// into a single new run file, which keeps the widest final merge bounded
// regardless of how many times a stage flushed.
func (m *Manager[T]) CompactToFanIn() error {
	for m.fileLimit > 0 && len(m.runs) > m.fileLimit {
		sort.Slice(m.runs, func(i, j int) bool { return m.runs[i].count < m.runs[j].count })

		batch := m.runs[:m.fileLimit]
		rest := m.runs[m.fileLimit:]

		merged, err := m.compactBatch(batch)
		if err != nil {
			return err
		}
		m.runs = append(rest, merged)
		m.log.Debug().Int("runs_remaining", len(m.runs)).Msg("compacted run batch")
	}
	return nil
}

// compactBatch merges batch's runs into one new run file and removes the
// inputs, regardless of whether the merge succeeded; a failed compaction
// must not leave the superseded run files as orphans.
func (m *Manager[T]) compactBatch(batch []run) (run, error) {
	cursors := make([]merge.Cursor[T], 0, len(batch))
	for _, r := range batch {
		c, err := newFileCursor(r.path, m.codec, m.bufSize)
		if err != nil {
			return run{}, fmt.Errorf("spill: opening run for compaction: %w", err)
		}
		cursors = append(cursors, c)
	}

	merged, err := m.mergeCursorsToFile(cursors, batch)

	for _, r := range batch {
		os.Remove(r.path)
	}

	if err != nil {
		return run{}, fmt.Errorf("spill: compacting runs: %w", err)
	}
	return merged, nil
}

// mergeCursorsToFile drains cursors, in merge order, into one new run file
// and returns the resulting run. sizeHintBatch, if non-nil, is the set of
// runs compaction is superseding, used only to pre-size the output file;
// passing nil skips pre-sizing, appropriate for a first-time spill with no
// existing on-disk cohort to size against.
func (m *Manager[T]) mergeCursorsToFile(cursors []merge.Cursor[T], sizeHintBatch []run) (run, error) {
	f, err := create(m.dir, m.prefix)
	if err != nil {
		return run{}, err
	}
	if sizeHintBatch != nil {
		m.preallocate(f, sizeHintBatch)
	}
	w := bufio.NewWriterSize(f, m.bufSize)
	count := 0
	mergeErr := merge.Run(cursors, m.less, func(v T) error {
		count++
		return writeFrame(w, m.codec, v)
	})
	if mergeErr != nil {
		f.Close()
		os.Remove(f.Name())
		return run{}, mergeErr
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return run{}, err
	}
	if sizeHintBatch != nil {
		// Undo any pre-sizing beyond what was actually written, or the
		// trailing zero bytes would be read back as corrupt records.
		if off, err := f.Seek(0, io.SeekCurrent); err == nil {
			_ = f.Truncate(off)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return run{}, err
	}
	return run{path: f.Name(), count: count}, nil
}

// preallocate is a best-effort pre-sizing hint for a compaction's output
// file: twice the cohort's on-disk bytes plus a 1 GiB slack, matching the
// ratio a merge that happens to not shrink the data at all would need,
// plus room to avoid fragmentation from immediately-following spills. It
// is skipped entirely when the free-space probe is unavailable or reports
// too little room; a failed or skipped pre-size never fails compaction.
func (m *Manager[T]) preallocate(f *os.File, batch []run) {
	var total int64
	for _, r := range batch {
		if st, err := os.Stat(r.path); err == nil {
			total += st.Size()
		}
	}
	hint := uint64(total)*2 + 1<<30

	free, ok := freeBytes(m.dir)
	if !ok || hint > free {
		return
	}
	_ = f.Truncate(int64(hint))
}

// FinalCursors opens every outstanding run file and returns a Cursor for
// each, ready to be handed to merge.Run for the stage's final emission.
// Each cursor removes its own backing file once drained, so a successful
// final merge leaves nothing on disk.
func (m *Manager[T]) FinalCursors() ([]merge.Cursor[T], error) {
	cursors := make([]merge.Cursor[T], 0, len(m.runs))
	for _, r := range m.runs {
		c, err := newFileCursor(r.path, m.codec, m.bufSize)
		if err != nil {
			m.CloseCursors(cursors)
			return nil, fmt.Errorf("spill: opening run for final merge: %w", err)
		}
		cursors = append(cursors, c)
	}
	m.runs = nil
	return cursors, nil
}

// CloseCursors closes and removes the backing file of every cursor
// FinalCursors returned that has not already drained to completion and
// self-removed. Once FinalCursors succeeds, the Manager no longer has a
// path list of its own to clean up with, so a caller whose final merge
// fails partway through must call this itself or leak the undrained run
// files.
func (m *Manager[T]) CloseCursors(cursors []merge.Cursor[T]) {
	for _, c := range cursors {
		if fc, ok := c.(*fileCursor[T]); ok {
			_ = fc.Close()
		}
	}
}

// RemoveAll deletes every outstanding run file without reading them, for
// use when a stage is abandoned before it reaches its final emission.
func (m *Manager[T]) RemoveAll() error {
	var firstErr error
	for _, r := range m.runs {
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	m.runs = nil
	return firstErr
}
