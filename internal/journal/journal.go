// Package journal appends scheduler status events to a CSV file or an SQLite
// database. The journal is write-only: nothing is restored from it on start.
package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ddsched/internal/eventbus"
	"ddsched/internal/sched"
	logx "ddsched/pkg/logx"
)

// Config mirrors the journal section of config.yml.
//
// Driver values:
//   - "csv": one row per event, header written on creation
//   - "sqlite": events table in an SQLite database file
//
// If Driver is empty or "none", the journal is disabled.
type Config struct {
	Driver      string        `yaml:"driver"`
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"` // sqlite only
}

// Entry is one journal row.
type Entry struct {
	Session  string
	At       time.Time
	Tick     int64
	Event    string
	TaskID   uint32
	Deadline int64
	Template uint32
	Detail   string
}

// Sink stores entries.
type Sink interface {
	Append(ctx context.Context, e Entry) error
	Close() error
}

// Open initializes the configured sink. It returns (nil, nil) when the
// journal is disabled.
func Open(cfg Config, log logx.Logger) (Sink, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "csv":
		return openCSV(cfg)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown journal driver: " + driver)
	}
}

// FromStatus converts an engine event into a journal entry.
func FromStatus(session string, ev sched.StatusEvent) Entry {
	return Entry{
		Session:  session,
		At:       ev.Time,
		Tick:     int64(ev.Tick),
		Event:    ev.Kind.String(),
		TaskID:   uint32(ev.TaskID),
		Deadline: int64(ev.Deadline),
		Template: ev.Template,
		Detail:   ev.Detail,
	}
}

// Recorder copies engine events from the bus into a sink.
type Recorder struct {
	sink     Sink
	log      logx.Logger
	session  string
	failures int
}

func NewRecorder(sink Sink, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{sink: sink, log: log.With(logx.String("component", "journal")), session: uuid.NewString()}
}

// Session identifies the entries written by this process.
func (r *Recorder) Session() string { return r.session }

// Run records until ctx ends, then closes the sink.
func (r *Recorder) Run(ctx context.Context, bus eventbus.Bus) error {
	events, unsubscribe := bus.Subscribe(sched.EventPrefix, 512)
	defer unsubscribe()
	defer func() {
		if err := r.sink.Close(); err != nil {
			r.log.Warn("journal close failed", logx.Err(err))
		}
	}()

	r.log.Info("journal started", logx.String("session", r.session))
	for {
		select {
		case <-ctx.Done():
			// keep what was already published
			for {
				select {
				case ev := <-events:
					r.record(context.Background(), ev)
				default:
					return nil
				}
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.record(ctx, ev)
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev eventbus.Event) {
	st, ok := ev.Data.(sched.StatusEvent)
	if !ok {
		return
	}
	if err := r.sink.Append(ctx, FromStatus(r.session, st)); err != nil {
		r.failures++
		if r.failures == 1 || r.failures%100 == 0 {
			r.log.Warn("journal append failed", logx.Int("failures", r.failures), logx.Err(err))
		}
	}
}

func wrapOpen(driver, path string, err error) error {
	return fmt.Errorf("journal %s %q: %w", driver, path, err)
}
