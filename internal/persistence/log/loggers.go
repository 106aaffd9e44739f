package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// JSONLZstdWriter appends one JSON document per line to an hourly file
// <baseDir>/<prefix>-YYYY-MM-DD-HH.jsonl.zst (UTC).
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu       sync.Mutex
	curHour  string
	onClosed func(path string)
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

// SetClock replaces the rotation time source.
func (w *JSONLZstdWriter) SetClock(now func() time.Time) {
	w.mu.Lock()
	w.now = now
	w.mu.Unlock()
}

// OnClosed registers fn to run with the path of every segment the writer
// finishes, on rotation and on Close.
func (w *JSONLZstdWriter) OnClosed(fn func(path string)) {
	w.mu.Lock()
	w.onClosed = fn
	w.mu.Unlock()
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
		if w.onClosed != nil && w.curHour != "" {
			w.onClosed(w.pathForHour(w.curHour))
		}
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// OutcomeEntry is one orchestrator decision.
type OutcomeEntry struct {
	At          int64      `json:"at"`
	ClientID    string     `json:"client_id"`
	Origin      string     `json:"origin"`
	Destination string     `json:"destination"`
	Cause       string     `json:"cause"`
	Outcome     string     `json:"outcome"`
	Final       string     `json:"final,omitempty"`
	Pos         [3]float64 `json:"pos"`
	Error       string     `json:"error,omitempty"`
}

// TransferEntry is one portal link transfer (nether, end, correction hop or
// special item build).
type TransferEntry struct {
	At       int64      `json:"at"`
	ClientID string     `json:"client_id"`
	Kind     string     `json:"kind"`
	From     string     `json:"from"`
	To       string     `json:"to"`
	Pos      [3]float64 `json:"pos"`
	OK       bool       `json:"ok"`
	Error    string     `json:"error,omitempty"`
}

// AuditLogger writes outcome and transfer entries to separate compressed
// streams under <dataDir>/audit.
type AuditLogger struct {
	outcomes  *JSONLZstdWriter
	transfers *JSONLZstdWriter
}

func NewAuditLogger(dataDir string) *AuditLogger {
	dir := filepath.Join(dataDir, "audit")
	return &AuditLogger{
		outcomes:  NewJSONLZstdWriter(dir, "outcomes"),
		transfers: NewJSONLZstdWriter(dir, "transfers"),
	}
}

func (l *AuditLogger) WriteOutcome(v OutcomeEntry) error {
	if l == nil {
		return nil
	}
	return l.outcomes.Write(v)
}

func (l *AuditLogger) WriteTransfer(v TransferEntry) error {
	if l == nil {
		return nil
	}
	return l.transfers.Write(v)
}

// OnSegmentClosed hooks both streams; see JSONLZstdWriter.OnClosed.
func (l *AuditLogger) OnSegmentClosed(fn func(path string)) {
	l.outcomes.OnClosed(fn)
	l.transfers.OnClosed(fn)
}

func (l *AuditLogger) Close() error {
	if l == nil {
		return nil
	}
	err1 := l.outcomes.Close()
	err2 := l.transfers.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
