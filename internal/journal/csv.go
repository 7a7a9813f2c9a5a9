package journal

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var csvHeader = []string{"timestamp", "session", "tick", "event", "task_id", "deadline", "template", "detail"}

type csvSink struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

func openCSV(cfg Config) (Sink, error) {
	path := cfg.Path
	if path == "" {
		path = "ddsched-journal.csv"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, wrapOpen("csv", path, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, wrapOpen("csv", path, err)
	}
	s := &csvSink{f: f, w: csv.NewWriter(f)}

	// write header on a fresh file only
	if info, err := f.Stat(); err == nil && info.Size() == 0 {
		s.w.Write(csvHeader)
		s.w.Flush()
	}
	return s, nil
}

func (s *csvSink) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Write([]string{
		e.At.Format(time.RFC3339Nano),
		e.Session,
		strconv.FormatInt(e.Tick, 10),
		e.Event,
		strconv.FormatUint(uint64(e.TaskID), 10),
		strconv.FormatInt(e.Deadline, 10),
		strconv.FormatUint(uint64(e.Template), 10),
		e.Detail,
	})
	s.w.Flush()
	return s.w.Error()
}

func (s *csvSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	return s.f.Close()
}
