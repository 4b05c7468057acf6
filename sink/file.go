package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goblimey/go-tools/dailylogger"

	"github.com/goblimey/nmea-bridge/connstate"
)

// FileConfig configures an append-only file sink (§3, §4.6, §6).
type FileConfig struct {
	// Path is the target file, e.g. "/var/log/nmea/data.nmea".
	Path string

	// AppendTimestamp, when true, computes the effective filename once at
	// Start as "<dir>/<base>_YYYYMMDD_HHMMSS<ext>".
	AppendTimestamp bool

	// RotateDaily, when true, ignores AppendTimestamp and instead writes
	// through a daily-rolling log (one file per calendar day, same
	// approach as the teacher lineage's rtcmlogger) - useful for sessions
	// that are expected to run for days at a stretch.
	RotateDaily bool
}

// File writes each sentence as one line to an append-only file, flushing
// after every write.
type File struct {
	base
	cfg FileConfig

	mu     sync.Mutex
	file   *os.File
	daily  io.Writer
	path   string
}

var _ Sink = (*File)(nil)

// NewFile creates a file sink. onState may be nil.
func NewFile(name string, cfg FileConfig, onState StateFunc) *File {
	return &File{base: newBase(name, onState), cfg: cfg}
}

func (f *File) Start(context.Context) error {
	f.setState(connstate.Connecting, "")

	dir := filepath.Dir(f.cfg.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			f.setState(connstate.Error, err.Error())
			return fmt.Errorf("sink %s: mkdir %s: %w", f.Name(), dir, err)
		}
	}

	ext := filepath.Ext(f.cfg.Path)
	base := strings.TrimSuffix(filepath.Base(f.cfg.Path), ext)

	if f.cfg.RotateDaily {
		f.mu.Lock()
		f.daily = dailylogger.New(dir, base+".", ext)
		f.mu.Unlock()
		f.setState(connstate.Connected, "")
		return nil
	}

	path := f.cfg.Path
	if f.cfg.AppendTimestamp {
		ts := time.Now().Format("20060102_150405")
		path = filepath.Join(dir, fmt.Sprintf("%s_%s%s", base, ts, ext))
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		f.setState(connstate.Error, err.Error())
		return fmt.Errorf("sink %s: open %s: %w", f.Name(), path, err)
	}

	f.mu.Lock()
	f.file = file
	f.path = path
	f.mu.Unlock()

	f.setState(connstate.Connected, "")
	return nil
}

func (f *File) Stop(context.Context) error {
	f.setState(connstate.Disconnected, "")
	f.markStopped()

	f.mu.Lock()
	file := f.file
	f.file = nil
	f.daily = nil
	f.mu.Unlock()

	if file != nil {
		return file.Close()
	}
	return nil
}

func (f *File) Ready() bool {
	f.mu.Lock()
	hasTarget := f.file != nil || f.daily != nil
	f.mu.Unlock()
	return f.isConnected() && hasTarget
}

func (f *File) Write(_ context.Context, data []byte) error {
	if !f.Ready() {
		return ErrNotReady
	}

	f.mu.Lock()
	file := f.file
	daily := f.daily
	f.mu.Unlock()

	if daily != nil {
		if _, err := daily.Write(data); err != nil {
			f.setState(connstate.Error, err.Error())
			return fmt.Errorf("sink %s: write: %w", f.Name(), err)
		}
		return nil
	}

	if file == nil {
		return ErrNotReady
	}
	if _, err := file.Write(data); err != nil {
		f.setState(connstate.Error, err.Error())
		return fmt.Errorf("sink %s: write: %w", f.Name(), err)
	}
	if err := file.Sync(); err != nil {
		f.setState(connstate.Error, err.Error())
		return fmt.Errorf("sink %s: sync: %w", f.Name(), err)
	}
	return nil
}

// Path returns the effective file path chosen at Start (useful for tests
// and status reporting); it is empty before Start or in RotateDaily mode.
func (f *File) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}
