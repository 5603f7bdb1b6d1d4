package counter

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/c2h5oh/datasize"
	"golang.org/x/sys/unix"
)

type agg struct {
	total   int64
	valid   int64
	invalid int64
	blank   int64
}

func (a *agg) add(dt, dv, di, db int64) {
	if dt != 0 {
		atomic.AddInt64(&a.total, dt)
	}
	if dv != 0 {
		atomic.AddInt64(&a.valid, dv)
	}
	if di != 0 {
		atomic.AddInt64(&a.invalid, di)
	}
	if db != 0 {
		atomic.AddInt64(&a.blank, db)
	}
}

func (a *agg) snap() (t, v, i, b int64) {
	return atomic.LoadInt64(&a.total), atomic.LoadInt64(&a.valid),
		atomic.LoadInt64(&a.invalid), atomic.LoadInt64(&a.blank)
}

// startLoggers reports line progress every logEvery lines and a memory
// snapshot every 2s until done is closed. Nothing is started when logEvery
// is zero.
func startLoggers(log *slog.Logger, logEvery int64, totals *agg, w *partitionWriter, inputBytes uint64) chan struct{} {
	done := make(chan struct{})
	if logEvery <= 0 {
		return done
	}
	start := time.Now()
	go func() {
		next := logEvery
		t := time.NewTicker(200 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				tl, vl, il, _ := totals.snap()
				if tl >= next {
					el := time.Since(start).Seconds()
					if el < 1 {
						el = 1
					}
					log.Info("progress",
						"lines", formatNumber(tl),
						"valid", formatNumber(vl),
						"invalid", formatNumber(il),
						"lines_per_sec", fmt.Sprintf("%.0f", float64(tl)/el),
					)
					for next <= tl {
						next += logEvery
					}
				}
			}
		}
	}()
	go func() {
		t := time.NewTicker(2 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				alloc, sys, numGC := heapSnapshot()
				log.Info("mem",
					"heap_alloc", humanBytes(alloc),
					"heap_sys", humanBytes(sys),
					"gc", numGC,
					"max_rss", humanBytes(maxRSS()),
					"staged", humanBytes(uint64(w.stagedBytes())),
					"input", humanBytes(inputBytes),
				)
			}
		}
	}()
	return done
}

func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	var out strings.Builder
	if neg {
		out.WriteByte('-')
	}
	rem := len(s) % 3
	if rem == 0 {
		rem = 3
	}
	out.WriteString(s[:rem])
	for i := rem; i < len(s); i += 3 {
		out.WriteByte(',')
		out.WriteString(s[i : i+3])
	}
	return out.String()
}

func humanBytes(b uint64) string {
	return datasize.ByteSize(b).HumanReadable()
}

func heapSnapshot() (alloc, sys uint64, numGC uint32) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc, m.Sys, m.NumGC
}

// maxRSS is the peak resident set size of the process. Linux reports
// ru_maxrss in kilobytes.
func maxRSS() uint64 {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	return uint64(ru.Maxrss) * 1024
}
