package spill

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/nyxsort/extsort/merge"
)

// fileBufferSize is the fallback bufio window for spill writes and the
// sequential reads performed during compaction and final merge, used when
// a Manager is not given an explicit buffer size.
const fileBufferSize = 1 << 16

// Codec is the record (de)serializer a Manager spills with and reads back
// with. Its method set matches the root package's Codec[T] exactly, so any
// implementation written against that type satisfies this one too; the
// type is restated here rather than imported to avoid a import cycle
// between this package and the root package's Stage.
type Codec[T any] interface {
	Encode(w io.Writer, v T) error
	Decode(r io.Reader) (T, error)
}

// create opens a new, uniquely named file in dir for a spilled run. dir is
// created if it does not exist yet, since resolveDir returns candidates
// that are only known to be usable, not already present.
func create(dir, prefix string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	name := prefix + uuid.NewString()
	return os.OpenFile(
		filepath.Join(dir, name),
		os.O_RDWR|os.O_CREATE|os.O_EXCL,
		0o600,
	)
}

// writeFrame writes v to w as a single length-prefixed frame: a varint byte
// count followed by exactly that many bytes from codec.Encode. Framing is
// done here, once, so a Codec never has to be self-delimiting on its own —
// a Codec that happens to produce variable-length output is exactly as safe
// to use as one that doesn't.
func writeFrame[T any](w io.Writer, codec Codec[T], v T) error {
	var buf bytes.Buffer
	if err := codec.Encode(&buf, v); err != nil {
		return err
	}
	var lenHeader [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenHeader[:], uint64(buf.Len()))
	if _, err := w.Write(lenHeader[:n]); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// readFrame reads one length-prefixed frame from r and decodes it with
// codec. It returns io.EOF only when r is exhausted cleanly between frames;
// a length header or payload truncated mid-frame is reported as a real
// error rather than a clean end of run.
func readFrame[T any](r *bufio.Reader, codec Codec[T]) (T, error) {
	var zero T
	length, err := binary.ReadUvarint(r)
	if err != nil {
		return zero, err
	}
	frame := make([]byte, length)
	if _, err := io.ReadFull(r, frame); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return zero, err
	}
	v, err := codec.Decode(bytes.NewReader(frame))
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return v, err
}

// fileCursor is a merge.Cursor over the records of a single spilled run. It
// removes its backing file from disk as soon as the run is fully consumed
// or a read from it fails, so a completed merge leaves no run files behind
// even if the caller never calls Manager.RemoveAll.
type fileCursor[T any] struct {
	file  *os.File
	r     *bufio.Reader
	codec Codec[T]

	cur     T
	ok      bool
	err     error
	drained bool
}

func newFileCursor[T any](path string, codec Codec[T], bufSize int) (*fileCursor[T], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	c := &fileCursor[T]{
		file:  f,
		r:     bufio.NewReaderSize(f, bufSize),
		codec: codec,
	}
	c.advance()
	if c.err != nil {
		return nil, c.err
	}
	return c, nil
}

func (c *fileCursor[T]) Peek() (T, bool) {
	return c.cur, c.ok
}

func (c *fileCursor[T]) Advance() error {
	if c.err != nil {
		return c.err
	}
	c.advance()
	return c.err
}

// advance loads the next record, or closes and removes the backing file
// once the run is exhausted or a read fails.
func (c *fileCursor[T]) advance() {
	if c.drained {
		c.ok = false
		return
	}
	v, err := readFrame(c.r, c.codec)
	if err != nil {
		c.ok = false
		c.drained = true
		name := c.file.Name()
		closeErr := c.file.Close()
		removeErr := os.Remove(name)
		if err != io.EOF {
			c.err = err
			return
		}
		if closeErr != nil {
			c.err = closeErr
			return
		}
		c.err = removeErr
		return
	}
	c.cur, c.ok = v, true
}

// Close closes and removes the cursor's backing file if the run has not
// already drained to completion on its own. It is used to clean up cursors
// a failed final merge abandoned mid-run, which never reach the self-removal
// in advance.
func (c *fileCursor[T]) Close() error {
	if c.drained {
		return nil
	}
	c.drained = true
	c.ok = false
	name := c.file.Name()
	err := c.file.Close()
	if rmErr := os.Remove(name); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

var _ merge.Cursor[struct{}] = (*fileCursor[struct{}])(nil)
