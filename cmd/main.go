package main

import (
	"counter-ipv6/counter"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/schollz/progressbar/v3"
)

func main() {
	var (
		mode          = flag.String("mode", "full", "processing mode: full | chunked | stream")
		workers       = flag.Int("workers", 0, "number of reducer goroutines (0 = NumCPU)")
		tmpDir        = flag.String("tmp", "", "parent directory for partition files (default: OS temp dir)")
		progressEvery = flag.Int64("progress-every", 10_000_000, "log every N lines (0=off)")
		sequential    = flag.Bool("sequential", false, "madvise: true=SEQUENTIAL, false=RANDOM")
		bar           = flag.Bool("bar", false, "show a progress bar on stderr")
		window        = datasize.GB
		buffer        = datasize.ByteSize(counter.DefaultBufferKeys * counter.KeySize)
	)
	flag.TextVar(&window, "window", window, "chunked mode: mmap window size (e.g. 256MB, 1GB)")
	flag.TextVar(&buffer, "buffer", buffer, "staging buffer per partition (e.g. 512KB, 1MB)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <input-file> <output-file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Progress and the final summary go to stdout, failures to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))
	errLog := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	inPath, outPath := flag.Arg(0), flag.Arg(1)

	bufferKeys := int(buffer.Bytes() / counter.KeySize)
	if bufferKeys <= 0 {
		errLog.Error("buffer must hold at least one key", "buffer", buffer.HumanReadable())
		os.Exit(2)
	}

	f, err := os.Open(inPath)
	if err != nil {
		errLog.Error("failed to open input file", "path", inPath, "err", err)
		os.Exit(1)
	}
	defer f.Close()

	c := counter.New(*workers, bufferKeys, *tmpDir, *progressEvery)
	c.AccessSequential = *sequential
	var pb *progressbar.ProgressBar
	if *bar {
		size := int64(-1)
		if fi, err := f.Stat(); err == nil && fi.Mode().IsRegular() {
			size = fi.Size()
		}
		pb = newProgressBar(size)
		c.Progress = pb
	}

	start := time.Now()

	var res counter.Result
	switch *mode {
	case "full":
		res, err = c.CountUnique(f)
	case "chunked":
		if window.Bytes() == 0 {
			errLog.Error("window must be > 0")
			os.Exit(2)
		}
		res, err = c.CountUniqueChunked(f, int(window.Bytes()))
	case "stream":
		res, err = c.CountUniqueReader(f)
	default:
		errLog.Error("unknown mode", "mode", *mode)
		os.Exit(2)
	}

	if pb != nil {
		_ = pb.Finish()
	}

	if err != nil {
		errLog.Error("count failed", "err", err)
		os.Exit(1)
	}

	// The count is already known here, so a failed write is reported but
	// does not change the exit status.
	if err := writeResult(outPath, res.Unique); err != nil {
		errLog.Error("could not write output file", "path", outPath, "err", err)
	}

	slog.Info("Complete",
		"mode", *mode,
		"unique_ips", res.Unique,
		"invalid_lines", res.Invalid,
		"elapsed", time.Since(start),
	)
}

func newProgressBar(size int64) *progressbar.ProgressBar {
	return progressbar.NewOptions64(
		size,
		progressbar.OptionSetDescription("partitioning"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)
}

// writeResult overwrites path with the decimal count and a newline.
func writeResult(path string, unique uint64) error {
	return os.WriteFile(path, []byte(strconv.FormatUint(unique, 10)+"\n"), 0o644)
}
