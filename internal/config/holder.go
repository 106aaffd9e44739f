package config

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Source yields the configuration in effect right now.
type Source interface {
	Get() Config
}

// Static is a Source that never changes.
type Static Config

func (s Static) Get() Config { return Config(s) }

// Holder publishes the active configuration. Readers take a snapshot with
// Get; Reload swaps it only when the file parses and validates.
type Holder struct {
	path string
	cur  atomic.Pointer[Config]

	mu   sync.Mutex
	subs []func(Config)
}

func NewHolder(path string, cfg Config) *Holder {
	h := &Holder{path: path}
	h.cur.Store(&cfg)
	return h
}

// LoadHolder loads path and wraps the result.
func LoadHolder(path string) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewHolder(path, cfg), nil
}

func (h *Holder) Path() string { return h.path }

func (h *Holder) Get() Config { return *h.cur.Load() }

// Set validates and publishes cfg.
func (h *Holder) Set(cfg Config) error {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishLocked(cfg)
	return nil
}

// Reload re-reads the backing file. On error the previous config stays active.
func (h *Holder) Reload() (Config, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cfg, err := Load(h.path)
	if err != nil {
		return *h.cur.Load(), err
	}
	h.publishLocked(cfg)
	return cfg, nil
}

// OnChange registers fn to run after every successful Set or Reload.
func (h *Holder) OnChange(fn func(Config)) {
	h.mu.Lock()
	h.subs = append(h.subs, fn)
	h.mu.Unlock()
}

func (h *Holder) publishLocked(cfg Config) {
	h.cur.Store(&cfg)
	for _, fn := range h.subs {
		fn(cfg)
	}
}

const watchDebounce = 100 * time.Millisecond

// Watch reloads h whenever its file is written, created or renamed into
// place, until ctx is done. The parent directory is watched so editors that
// replace the file are picked up.
func Watch(ctx context.Context, h *Holder, logger *log.Logger) error {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if h.path == "" {
		return fmt.Errorf("config watch: no file")
	}
	abs, err := filepath.Abs(h.path)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return err
	}

	go func() {
		defer w.Close()
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if name, _ := filepath.Abs(ev.Name); name != abs {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(watchDebounce)
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(watchDebounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				if _, err := h.Reload(); err != nil {
					logger.Printf("config reload failed, keeping previous: %v", err)
					continue
				}
				logger.Printf("config reloaded from %s", h.path)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Printf("config watch: %v", err)
			}
		}
	}()
	return nil
}
