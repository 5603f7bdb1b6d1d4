package counter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

// NumPartitions is the fixed bucket count; a key's bucket is its top byte.
// Input sharing one top byte lands in one bucket and is reduced by a single
// worker, which costs parallelism but not correctness.
const NumPartitions = 256

var (
	ErrPartitionCreate = errors.New("cannot create partition file")
	ErrBufferSize      = errors.New("partition buffer must hold at least one key")
)

func partitionPath(dir string, p int) string {
	return filepath.Join(dir, fmt.Sprintf("part-%03d.bin", p))
}

// partitionWriter stages keys into NumPartitions append-only files through a
// fixed-capacity buffer per partition.
type partitionWriter struct {
	dir     string
	files   [NumPartitions]*os.File
	bufs    [NumPartitions][]Key
	capKeys int
	scratch []byte
	written atomic.Int64
}

func newPartitionWriter(dir string, capKeys int) (*partitionWriter, error) {
	if capKeys <= 0 {
		return nil, ErrBufferSize
	}
	w := &partitionWriter{
		dir:     dir,
		capKeys: capKeys,
		scratch: make([]byte, capKeys*KeySize),
	}
	for p := 0; p < NumPartitions; p++ {
		f, err := os.OpenFile(partitionPath(dir, p), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		if err != nil {
			w.abort()
			return nil, fmt.Errorf("%w %d: %w", ErrPartitionCreate, p, err)
		}
		w.files[p] = f
	}
	return w, nil
}

func (w *partitionWriter) add(k Key) error {
	p := k.Partition()
	b := w.bufs[p]
	if b == nil {
		b = make([]Key, 0, w.capKeys)
	}
	b = append(b, k)
	w.bufs[p] = b
	if len(b) >= w.capKeys {
		return w.flush(p)
	}
	return nil
}

func (w *partitionWriter) flush(p int) error {
	b := w.bufs[p]
	if len(b) == 0 {
		return nil
	}
	out := w.scratch[:len(b)*KeySize]
	for i, k := range b {
		putKey(out[i*KeySize:], k)
	}
	if _, err := w.files[p].Write(out); err != nil {
		return fmt.Errorf("write partition %d: %w", p, err)
	}
	w.written.Add(int64(len(out)))
	w.bufs[p] = b[:0]
	return nil
}

// close flushes every buffer and closes every file. No partition may be
// reduced before close returns.
func (w *partitionWriter) close() error {
	var errs []error
	for p := 0; p < NumPartitions; p++ {
		if w.files[p] == nil {
			continue
		}
		if err := w.flush(p); err != nil {
			errs = append(errs, err)
		}
		if err := w.files[p].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close partition %d: %w", p, err))
		}
		w.files[p] = nil
		w.bufs[p] = nil
	}
	return errors.Join(errs...)
}

// abort closes whatever is open without flushing.
func (w *partitionWriter) abort() {
	for p, f := range w.files {
		if f != nil {
			_ = f.Close()
			w.files[p] = nil
		}
		w.bufs[p] = nil
	}
}

// stagedBytes reports how many bytes have been flushed to disk so far.
func (w *partitionWriter) stagedBytes() int64 {
	return w.written.Load()
}
