package counter

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const (
	DefaultBufferKeys = 64 * 1024
	defaultWorkers    = 4
	adviseWindow      = 64 << 20
	flushEvery        = 1 << 20
	readerBufSize     = 1 << 20
)

// Progress receives the number of input bytes consumed. A progress bar's
// Add64 fits.
type Progress interface {
	Add64(n int64) error
}

// IPv6Counter counts distinct IPv6 addresses in line-oriented input using
// disk-backed partitions, so memory stays bounded by the staging buffers
// and the largest single partition.
type IPv6Counter struct {
	Workers          int
	BufferKeys       int
	TempDir          string
	LogInterval      int64
	AccessSequential bool
	Progress         Progress
	Logger           *slog.Logger
}

// Result is the outcome of one run. Unique is the exact distinct count.
type Result struct {
	Unique     uint64
	Lines      int64
	Valid      int64
	Invalid    int64
	Blank      int64
	Partitions int
	Elapsed    time.Duration
}

func New(workers, bufferKeys int, tempDir string, logInterval int64) *IPv6Counter {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	if bufferKeys <= 0 {
		bufferKeys = DefaultBufferKeys
	}
	return &IPv6Counter{
		Workers:     workers,
		BufferKeys:  bufferKeys,
		TempDir:     tempDir,
		LogInterval: logInterval,
	}
}

func (c *IPv6Counter) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// CountUnique maps the whole file and streams its lines into the partitions.
func (c *IPv6Counter) CountUnique(f *os.File) (Result, error) {
	fi, err := f.Stat()
	if err != nil {
		return Result{}, err
	}
	// pipes and proc files report no usable size
	if !fi.Mode().IsRegular() {
		return c.CountUniqueReader(f)
	}
	size := int(fi.Size())
	if size == 0 {
		return c.run(0, func(*ingester) error { return nil })
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return Result{}, fmt.Errorf("mmap input: %w", err)
	}
	defer unix.Munmap(data)
	c.advise(data)

	return c.run(uint64(size), func(in *ingester) error {
		page := unix.Getpagesize()
		advCursor := 0
		lineStart := 0
		for lineStart < size {
			nl := bytes.IndexByte(data[lineStart:], '\n')
			if nl < 0 {
				return in.line(data, lineStart, size, size-lineStart)
			}
			end := lineStart + nl
			if err := in.line(data, lineStart, end, nl+1); err != nil {
				return err
			}
			lineStart = end + 1

			if lineStart-advCursor >= adviseWindow {
				cut := lineStart - lineStart%page
				if cut > advCursor {
					_ = unix.Madvise(data[advCursor:cut], unix.MADV_DONTNEED)
					advCursor = cut
				}
			}
		}
		return nil
	})
}

// CountUniqueChunked maps the file one window at a time. A line split across
// windows is carried over into the next one.
func (c *IPv6Counter) CountUniqueChunked(f *os.File, windowBytes int) (Result, error) {
	fi, err := f.Stat()
	if err != nil {
		return Result{}, err
	}
	if !fi.Mode().IsRegular() {
		return c.CountUniqueReader(f)
	}
	fileSize := fi.Size()

	return c.run(uint64(fileSize), func(in *ingester) error {
		page := unix.Getpagesize()
		if windowBytes < page {
			windowBytes = page
		}
		carry := make([]byte, 0, 64)

		var offset int64
		for offset < fileSize {
			mapOff := (offset / int64(page)) * int64(page)
			startInMap := int(offset - mapOff)
			want := startInMap + windowBytes
			if mapOff+int64(want) > fileSize {
				want = int(fileSize - mapOff)
			}
			data, err := unix.Mmap(int(f.Fd()), mapOff, want, unix.PROT_READ, unix.MAP_SHARED)
			if err != nil {
				return fmt.Errorf("mmap window at %d: %w", mapOff, err)
			}
			c.advise(data)
			view := data[startInMap:]
			carry, err = in.window(view, carry)
			_ = unix.Munmap(data)
			if err != nil {
				return err
			}
			offset += int64(len(view))
		}
		if len(carry) > 0 {
			return in.line(carry, 0, len(carry), len(carry))
		}
		return nil
	})
}

// CountUniqueReader reads lines from r through a buffered reader. It serves
// inputs that cannot be mapped, such as pipes.
func (c *IPv6Counter) CountUniqueReader(r io.Reader) (Result, error) {
	return c.run(0, func(in *ingester) error {
		br := bufio.NewReaderSize(r, readerBufSize)
		var long []byte
		for {
			chunk, err := br.ReadSlice('\n')
			if errors.Is(err, bufio.ErrBufferFull) {
				long = append(long, chunk...)
				continue
			}
			line := chunk
			if len(long) > 0 {
				long = append(long, chunk...)
				line = long
			}
			if len(line) > 0 {
				n := len(line)
				end := n
				if line[end-1] == '\n' {
					end--
				}
				if lerr := in.line(line, 0, end, n); lerr != nil {
					return lerr
				}
			}
			long = long[:0]
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
		}
	})
}

func (c *IPv6Counter) advise(data []byte) {
	if c.AccessSequential {
		_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)
	} else {
		_ = unix.Madvise(data, unix.MADV_RANDOM)
	}
}

// run stages the input through ingest, then reduces every partition.
// Partition files are fully written and closed before any is reduced.
func (c *IPv6Counter) run(inputBytes uint64, ingest func(*ingester) error) (Result, error) {
	log := c.logger()
	start := time.Now()

	old := debug.SetGCPercent(200)
	defer debug.SetGCPercent(old)

	dir, err := os.MkdirTemp(c.TempDir, "counter-ipv6-")
	if err != nil {
		return Result{}, fmt.Errorf("%w: staging directory: %w", ErrPartitionCreate, err)
	}
	defer os.RemoveAll(dir)

	bufferKeys := c.BufferKeys
	if bufferKeys <= 0 {
		bufferKeys = DefaultBufferKeys
	}
	w, err := newPartitionWriter(dir, bufferKeys)
	if err != nil {
		return Result{}, err
	}

	var totals agg
	in := &ingester{w: w, totals: &totals, progress: c.Progress}
	done := startLoggers(log, c.LogInterval, &totals, w, inputBytes)
	defer close(done)

	log.Info("phase 1: partitioning", "dir", dir, "buffer_keys", bufferKeys)
	if err := ingest(in); err != nil {
		w.abort()
		return Result{}, err
	}
	in.flushStats()
	if err := w.close(); err != nil {
		return Result{}, err
	}

	log.Info("phase 2: reducing", "workers", c.workers(), "staged", humanBytes(uint64(w.stagedBytes())))
	counts, err := c.reduceAll(dir)
	if err != nil {
		return Result{}, err
	}

	res := Result{Elapsed: time.Since(start)}
	for _, n := range counts {
		res.Unique += n
		if n > 0 {
			res.Partitions++
		}
	}
	res.Lines, res.Valid, res.Invalid, res.Blank = totals.snap()
	c.report(res)
	return res, nil
}

func (c *IPv6Counter) workers() int {
	n := c.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n <= 0 {
		n = defaultWorkers
	}
	return min(n, NumPartitions)
}

// reduceAll runs a fixed pool of workers. Each claims the next partition
// index from a shared counter, so every partition is reduced exactly once.
// Counts are folded by the caller after the pool has joined.
func (c *IPv6Counter) reduceAll(dir string) ([NumPartitions]uint64, error) {
	var counts [NumPartitions]uint64
	var next atomic.Int64

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < c.workers(); i++ {
		g.Go(func() error {
			for ctx.Err() == nil {
				p := int(next.Add(1) - 1)
				if p >= NumPartitions {
					return nil
				}
				n, err := reducePartition(partitionPath(dir, p))
				if errors.Is(err, errPartitionUnreadable) {
					c.logger().Warn("partition treated as empty", "partition", p, "err", err)
					n, err = 0, nil
				}
				if err != nil {
					return fmt.Errorf("reduce partition %d: %w", p, err)
				}
				counts[p] = n
			}
			return nil
		})
	}
	err := g.Wait()
	return counts, err
}

func (c *IPv6Counter) report(res Result) {
	attrs := []any{
		"duration", res.Elapsed.Truncate(time.Millisecond),
		"lines", formatNumber(res.Lines),
		"valid", formatNumber(res.Valid),
		"invalid", formatNumber(res.Invalid),
		"blank", formatNumber(res.Blank),
		"unique", formatNumber(int64(res.Unique)),
		"partitions", res.Partitions,
	}
	if res.Elapsed > 0 {
		attrs = append(attrs, "lines_per_sec", fmt.Sprintf("%.0f", float64(res.Lines)/res.Elapsed.Seconds()))
	}
	c.logger().Info("processing results", attrs...)
}

// ingester is the single-threaded Phase 1 line handler. Counters are kept
// locally and published to totals in batches.
type ingester struct {
	w        *partitionWriter
	totals   *agg
	progress Progress

	lt, lv, li, lb int64
	lastFlush      int64
	pending        int64
}

// line handles data[start:end]; consumed is the number of input bytes the
// line occupied, terminator included.
func (in *ingester) line(data []byte, start, end, consumed int) error {
	in.lt++
	in.pending += int64(consumed)
	s, e := trimLine(data, start, end)
	switch {
	case s == e:
		in.lb++
	default:
		k, ok := parseIPv6(data, s, e)
		if !ok {
			in.li++
			break
		}
		in.lv++
		if err := in.w.add(k); err != nil {
			return err
		}
	}
	if in.lt-in.lastFlush >= flushEvery {
		in.flushStats()
	}
	return nil
}

// window feeds every complete line of view, prefixed by the carry from the
// previous window, and returns the new carry.
func (in *ingester) window(view, carry []byte) ([]byte, error) {
	if len(carry) > 0 {
		idx := bytes.IndexByte(view, '\n')
		if idx < 0 {
			return append(carry, view...), nil
		}
		carry = append(carry, view[:idx]...)
		if err := in.line(carry, 0, len(carry), len(carry)+1); err != nil {
			return carry, err
		}
		carry = carry[:0]
		view = view[idx+1:]
	}
	lineStart := 0
	for {
		nl := bytes.IndexByte(view[lineStart:], '\n')
		if nl < 0 {
			break
		}
		end := lineStart + nl
		if err := in.line(view, lineStart, end, nl+1); err != nil {
			return carry, err
		}
		lineStart = end + 1
	}
	return append(carry, view[lineStart:]...), nil
}

func (in *ingester) flushStats() {
	in.totals.add(in.lt-in.lastFlush, in.lv, in.li, in.lb)
	in.lastFlush = in.lt
	in.lv, in.li, in.lb = 0, 0, 0
	if in.progress != nil && in.pending > 0 {
		_ = in.progress.Add64(in.pending)
	}
	in.pending = 0
}
