// Package tape loads recorded order-book event files: UTF-8 newline-delimited
// JSON, one event per line, as captured from the CLOB market-data stream.
package tape

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/Amanpat/polysim/internal/domain"
)

// maxLineBytes bounds a single tape line; full snapshot ladders can run long.
const maxLineBytes = 8 << 20

// Result is a loaded tape: events sorted by seq plus load diagnostics. The
// SHA-256 covers the raw file bytes and goes into the run manifest.
type Result struct {
	Events   []domain.TapeEvent
	Lines    int
	Skipped  int
	Warnings []string
	SHA256   string
}

// Load reads the tape at path. Lines that fail to parse or carry an unknown
// event type are skipped with a recorded warning, never fatal; only I/O
// errors abort the load. Events are returned sorted by seq (stable, so input
// order breaks ties).
func Load(path string, logger *slog.Logger) (*Result, error) {
	log := logger.With(slog.String("component", "tape"))

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tape: open %s: %w", path, err)
	}
	defer f.Close()

	hash := sha256.New()
	sc := bufio.NewScanner(io.TeeReader(f, hash))
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	res := &Result{}
	for sc.Scan() {
		res.Lines++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		var ev domain.TapeEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			res.skip(log, res.Lines, fmt.Sprintf("malformed line: %v", err))
			continue
		}
		switch ev.EventType {
		case domain.EventTypeBook, domain.EventTypePriceChange:
		default:
			res.skip(log, res.Lines, fmt.Sprintf("unknown event_type %q", ev.EventType))
			continue
		}
		res.Events = append(res.Events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("tape: read %s: %w", path, err)
	}
	res.SHA256 = hex.EncodeToString(hash.Sum(nil))

	sort.SliceStable(res.Events, func(i, j int) bool {
		return res.Events[i].Seq < res.Events[j].Seq
	})

	log.Info("tape loaded",
		slog.String("path", path),
		slog.Int("events", len(res.Events)),
		slog.Int("skipped", res.Skipped),
	)
	return res, nil
}

func (r *Result) skip(log *slog.Logger, line int, reason string) {
	r.Skipped++
	r.Warnings = append(r.Warnings, fmt.Sprintf("tape line %d: %s", line, reason))
	log.Warn("skipping tape line",
		slog.Int("line", line),
		slog.String("reason", reason),
	)
}
