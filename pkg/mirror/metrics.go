package mirror

import (
	"sync/atomic"
	"time"

	"github.com/paulschiretz/pgl-gallery/pkg/plog"
	"github.com/paulschiretz/pgl-gallery/pkg/util"
)

// Metrics collects statistics about mirror operations.
type Metrics interface {
	AddFilesCopied(n int64)
	AddFilesDeleted(n int64)
	AddBytesWritten(n int64)
	AddDirsCreated(n int64)
	AddDirsDeleted(n int64)
	LogSummary(msg string)
}

// Counters is the atomic implementation of Metrics.
type Counters struct {
	FilesCopied  atomic.Int64
	FilesDeleted atomic.Int64
	BytesWritten atomic.Int64
	DirsCreated  atomic.Int64
	DirsDeleted  atomic.Int64

	startTime time.Time
}

// NewCounters returns zeroed counters whose duration starts now.
func NewCounters() *Counters {
	return &Counters{startTime: time.Now()}
}

func (m *Counters) AddFilesCopied(n int64)  { m.FilesCopied.Add(n) }
func (m *Counters) AddFilesDeleted(n int64) { m.FilesDeleted.Add(n) }
func (m *Counters) AddBytesWritten(n int64) { m.BytesWritten.Add(n) }
func (m *Counters) AddDirsCreated(n int64)  { m.DirsCreated.Add(n) }
func (m *Counters) AddDirsDeleted(n int64)  { m.DirsDeleted.Add(n) }

// LogSummary logs the counters with a custom message.
func (m *Counters) LogSummary(msg string) {
	duration := time.Duration(0)
	if !m.startTime.IsZero() {
		duration = time.Since(m.startTime)
	}
	plog.Info(msg,
		"files_copied", m.FilesCopied.Load(),
		"files_deleted", m.FilesDeleted.Load(),
		"bytes_written", util.ByteCountIEC(m.BytesWritten.Load()),
		"dirs_created", m.DirsCreated.Load(),
		"dirs_deleted", m.DirsDeleted.Load(),
		"duration", duration.Round(time.Millisecond),
	)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) AddFilesCopied(n int64)  {}
func (NoopMetrics) AddFilesDeleted(n int64) {}
func (NoopMetrics) AddBytesWritten(n int64) {}
func (NoopMetrics) AddDirsCreated(n int64)  {}
func (NoopMetrics) AddDirsDeleted(n int64)  {}
func (NoopMetrics) LogSummary(msg string)   {}
