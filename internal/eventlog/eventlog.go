// Package eventlog durably records chat events, one line per event.
//
// Opening a sink can fail and callers treat that as fatal. Once open, a sink
// never returns write errors: the first failure is reported through slog and
// later ones are dropped so a broken disk cannot take the server down.
package eventlog

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05.000"

// Sink appends event lines.
type Sink interface {
	Log(line string)
	Close() error
}

// Discard drops every line.
var Discard Sink = discard{}

type discard struct{}

func (discard) Log(string)   {}
func (discard) Close() error { return nil }

// Open returns a sink for driver ("file" or "sqlite") writing to path.
func Open(driver, path string, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch driver {
	case "", "file":
		s, err := OpenFile(path, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := OpenSQLite(path, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "none":
		return Discard, nil
	default:
		return nil, fmt.Errorf("unknown event log driver %q", driver)
	}
}

// failureReporter logs the first write failure of a sink.
type failureReporter struct {
	once   sync.Once
	logger *slog.Logger
	sink   string
}

func (f *failureReporter) report(err error) {
	f.once.Do(func() {
		f.logger.Warn("event log write failed; further failures are silent", "sink", f.sink, "error", err)
	})
}

func stamp(now time.Time) string {
	return now.Format(timestampLayout)
}
