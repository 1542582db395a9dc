// Package progress aggregates byte counts reported by concurrent workers.
package progress

import (
	"sync"

	"github.com/schollz/progressbar/v3"
)

// Func receives the cumulative number of bytes processed and the expected
// total, or -1 when the total is unknown.
type Func func(done, total int64)

// Nop discards progress.
func Nop(int64, int64) {}

// Counter is an aggregate progress counter shared by several workers.
type Counter struct {
	mu    sync.Mutex
	done  int64
	total int64
	fn    Func
}

func NewCounter(total int64, fn Func) *Counter {
	if fn == nil {
		fn = Nop
	}
	return &Counter{total: total, fn: fn}
}

// Add records n more bytes and reports the new aggregate.
func (c *Counter) Add(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done += n
	c.fn(c.done, c.total)
}

func (c *Counter) Done() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Writer adapts the counter to io.Writer so it can sit behind an io.TeeReader.
func (c *Counter) Writer() *CountingWriter {
	return &CountingWriter{c: c}
}

type CountingWriter struct {
	c *Counter
}

func (w *CountingWriter) Write(p []byte) (int, error) {
	w.c.Add(int64(len(p)))
	return len(p), nil
}

// Bar renders progress on the terminal with a byte progress bar.
func Bar(description string) Func {
	var (
		mu  sync.Mutex
		bar *progressbar.ProgressBar
		max int64
	)
	return func(done, total int64) {
		mu.Lock()
		defer mu.Unlock()
		if bar == nil {
			max = total
			bar = progressbar.DefaultBytes(total, description)
		}
		if total != max {
			max = total
			bar.ChangeMax64(total)
		}
		_ = bar.Set64(done)
		if total > 0 && done >= total {
			_ = bar.Finish()
		}
	}
}
