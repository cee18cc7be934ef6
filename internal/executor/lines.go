package executor

import (
	"bytes"
	"sync"

	"playground-engine/internal/sandbox"
)

// lineWriter turns a byte stream into one event per line.
type lineWriter struct {
	kind sandbox.Kind
	emit sandbox.Emitter

	mu  sync.Mutex
	buf bytes.Buffer
}

func newLineWriter(kind sandbox.Kind, emit sandbox.Emitter) *lineWriter {
	return &lineWriter{kind: kind, emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(w.buf.Next(i+1), "\r\n"))
		w.emit(w.kind, line)
	}
	return len(p), nil
}

// Flush emits a trailing line that had no newline.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() > 0 {
		w.emit(w.kind, w.buf.String())
		w.buf.Reset()
	}
}
