// Package utils holds small helpers shared by the bdpan commands.
package utils

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"
)

// LogInterceptor is an io.Writer that prefixes every complete line with a
// sequence number and a timestamp before passing it on. Incomplete lines
// are held until their newline arrives or Close is called.
type LogInterceptor struct {
	mu      sync.Mutex
	target  io.Writer
	seq     uint64
	pending bytes.Buffer
	now     func() time.Time
}

func NewLogInterceptor(target io.Writer) *LogInterceptor {
	return &LogInterceptor{target: target, now: time.Now}
}

// Write reports len(p) on success so that callers such as slog handlers do
// not treat the added prefix as a short write.
func (i *LogInterceptor) Write(p []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.pending.Write(p)
	for {
		line, err := i.pending.ReadBytes('\n')
		if err != nil {
			// no newline yet, keep the fragment
			i.pending.Write(line)
			return len(p), nil
		}
		if err := i.writeLine(bytes.TrimRight(line, "\r\n")); err != nil {
			return 0, err
		}
	}
}

// Close flushes a trailing line without newline
func (i *LogInterceptor) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.pending.Len() == 0 {
		return nil
	}
	line := bytes.Clone(i.pending.Bytes())
	i.pending.Reset()
	return i.writeLine(line)
}

func (i *LogInterceptor) writeLine(line []byte) error {
	i.seq++
	_, err := fmt.Fprintf(i.target, "line=%d time=%s %s\n", i.seq, i.now().Format(time.RFC3339), line)
	return err
}
