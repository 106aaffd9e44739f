package offsite

import (
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"worldmemory.ai/internal/ledger"
)

// Uploader is the bucket side of the mirror; *Client implements it.
type Uploader interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
	Delete(ctx context.Context, objectKey string) error
}

type Stats struct {
	QueueDepth          int
	QueueCapacity       int
	EnqueuedTotal       uint64
	QueueSaturatedTotal uint64
	DroppedTotal        uint64
	UploadSuccessTotal  uint64
	UploadFailTotal     uint64
	DeleteTotal         uint64
	LastSuccessUnix     int64
	LastErrorUnix       int64
}

type job struct {
	local  string
	remove bool
}

// Mirror uploads files under dataDir to prefix/<path relative to dataDir>
// from a small worker pool. Enqueue never blocks longer than enqueueWait.
type Mirror struct {
	up      Uploader
	dataDir string
	prefix  string
	logger  *log.Logger
	backoff time.Duration

	jobs        chan job
	enqueueWait time.Duration
	wg          sync.WaitGroup
	closeOnce   sync.Once

	enqueuedTotal       atomic.Uint64
	queueSaturatedTotal atomic.Uint64
	droppedTotal        atomic.Uint64
	uploadSuccessTotal  atomic.Uint64
	uploadFailTotal     atomic.Uint64
	deleteTotal         atomic.Uint64
	lastSuccessUnix     atomic.Int64
	lastErrorUnix       atomic.Int64
}

func NewMirror(up Uploader, dataDir, prefix string, workers, queueCapacity int, enqueueWait time.Duration, logger *log.Logger) *Mirror {
	if workers <= 0 {
		workers = 1
	}
	if queueCapacity <= 0 {
		queueCapacity = 2048
	}
	if enqueueWait <= 0 {
		enqueueWait = 25 * time.Millisecond
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	m := &Mirror{
		up:          up,
		dataDir:     dataDir,
		prefix:      strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		logger:      logger,
		backoff:     200 * time.Millisecond,
		jobs:        make(chan job, queueCapacity),
		enqueueWait: enqueueWait,
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for j := range m.jobs {
				m.runOne(j)
			}
		}()
	}
	return m
}

// Enqueue schedules an upload of localPath.
func (m *Mirror) Enqueue(localPath string) { m.enqueue(job{local: localPath}) }

// EnqueueDelete schedules removal of the object mirroring localPath.
func (m *Mirror) EnqueueDelete(localPath string) { m.enqueue(job{local: localPath, remove: true}) }

func (m *Mirror) enqueue(j job) {
	if m == nil || m.up == nil {
		return
	}
	m.enqueuedTotal.Add(1)

	select {
	case m.jobs <- j:
		return
	default:
	}

	m.queueSaturatedTotal.Add(1)
	timer := time.NewTimer(m.enqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- j:
	case <-timer.C:
		dropped := m.droppedTotal.Add(1)
		m.logger.Printf("offsite drop local=%s reason=queue_saturated wait_ms=%d dropped_total=%d", j.local, m.enqueueWait.Milliseconds(), dropped)
	}
}

// Close drains queued jobs and stops the workers.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.closeOnce.Do(func() {
		close(m.jobs)
		m.wg.Wait()
	})
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(m.jobs),
		QueueCapacity:       cap(m.jobs),
		EnqueuedTotal:       m.enqueuedTotal.Load(),
		QueueSaturatedTotal: m.queueSaturatedTotal.Load(),
		DroppedTotal:        m.droppedTotal.Load(),
		UploadSuccessTotal:  m.uploadSuccessTotal.Load(),
		UploadFailTotal:     m.uploadFailTotal.Load(),
		DeleteTotal:         m.deleteTotal.Load(),
		LastSuccessUnix:     m.lastSuccessUnix.Load(),
		LastErrorUnix:       m.lastErrorUnix.Load(),
	}
}

func (m *Mirror) runOne(j job) {
	key, err := m.objectKey(j.local)
	if err != nil {
		m.logger.Printf("offsite skip local=%s err=%v", j.local, err)
		return
	}
	err = m.withRetry(func(ctx context.Context) error {
		if j.remove {
			return m.up.Delete(ctx, key)
		}
		return m.up.PutFile(ctx, key, j.local)
	})
	if err != nil {
		m.uploadFailTotal.Add(1)
		m.lastErrorUnix.Store(time.Now().UTC().Unix())
		m.logger.Printf("offsite failed key=%s local=%s remove=%v err=%v", key, j.local, j.remove, err)
		return
	}
	if j.remove {
		m.deleteTotal.Add(1)
	} else {
		m.uploadSuccessTotal.Add(1)
	}
	m.lastSuccessUnix.Store(time.Now().UTC().Unix())
}

func (m *Mirror) withRetry(fn func(ctx context.Context) error) error {
	const maxAttempts = 4
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := fn(ctx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt*attempt) * m.backoff)
		}
	}
	return lastErr
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	absBase, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside data dir %s", absLocal, absBase)
	}
	if m.prefix != "" {
		return path.Join(m.prefix, rel), nil
	}
	return rel, nil
}

// Store is a ledger FileStore whose writes and deletes are mirrored.
type Store struct {
	*ledger.FileStore
	m *Mirror
}

func MirrorStore(fs *ledger.FileStore, m *Mirror) *Store {
	return &Store{FileStore: fs, m: m}
}

func (s *Store) Save(id uuid.UUID, e ledger.Entry) error {
	if err := s.FileStore.Save(id, e); err != nil {
		return err
	}
	s.m.Enqueue(s.Path(id))
	return nil
}

func (s *Store) Delete(id uuid.UUID) error {
	if err := s.FileStore.Delete(id); err != nil {
		return err
	}
	s.m.EnqueueDelete(s.Path(id))
	return nil
}
