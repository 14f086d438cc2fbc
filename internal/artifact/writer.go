// Package artifact persists a finished run as its on-disk artifact set: the
// JSONL logs, summary.json, run_manifest.json, and meta.json.
package artifact

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Writer writes newline-delimited JSON (JSONL) records to a file, replacing
// any previous content. It is safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
}

// NewWriter returns a JSONL writer for path. If path is empty/blank, it
// returns nil and every method is a no-op.
func NewWriter(path string) *Writer {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return &Writer{path: path}
}

func (w *Writer) ensureOpenLocked() error {
	if w.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	w.file = f
	w.w = bufio.NewWriterSize(f, 256*1024)
	return nil
}

// Write appends v as a single JSON object followed by '\n'.
func (w *Writer) Write(v any) error {
	if w == nil {
		return nil
	}
	if v == nil {
		return fmt.Errorf("artifact: nil record")
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpenLocked(); err != nil {
		return err
	}

	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Touch creates or truncates the file even when no records follow, so empty
// logs still show up in the artifact set their manifest lists.
func (w *Writer) Touch() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ensureOpenLocked()
}

// Close flushes any buffered data and closes the underlying file.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	if w.w != nil {
		if err := w.w.Flush(); err != nil {
			firstErr = err
		}
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.w = nil
	w.file = nil
	return firstErr
}

// writeJSONL writes every row to path as one JSONL file. Zero rows still
// produce the (empty) file.
func writeJSONL[T any](ctx context.Context, path string, rows []T) error {
	w := NewWriter(path)
	if err := w.Touch(); err != nil {
		return err
	}
	for i, row := range rows {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				_ = w.Close()
				return err
			}
		}
		if err := w.Write(row); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Close()
}

// writeJSON writes v to path as one indented JSON document.
func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
