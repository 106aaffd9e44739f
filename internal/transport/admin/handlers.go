// Package admin serves the operator commands over loopback-only HTTP.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"worldmemory.ai/internal/command"
	"worldmemory.ai/internal/host"
	"worldmemory.ai/internal/sim/dimension"
)

const callTimeout = 5 * time.Second

// Runner executes fn on the host's tick goroutine.
type Runner interface {
	Call(ctx context.Context, fn func()) error
}

type Handlers struct {
	cmds *command.Service
	run  Runner
	log  *log.Logger
}

// New builds the handlers; a nil runner calls the service directly.
func New(cmds *command.Service, run Runner, logger *log.Logger) *Handlers {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Handlers{cmds: cmds, run: run, log: logger}
}

func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/v1/positions", loopbackOnly(h.positions))
	mux.HandleFunc("/admin/v1/move", loopbackOnly(h.move))
	mux.HandleFunc("/admin/v1/reload", loopbackOnly(h.reload))
	mux.HandleFunc("/admin/v1/group", loopbackOnly(h.group))
}

type setRequest struct {
	Client    string   `json:"client_id"`
	Dimension string   `json:"dimension"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Z         float64  `json:"z"`
	Yaw       *float32 `json:"yaw,omitempty"`
	Pitch     *float32 `json:"pitch,omitempty"`
}

type moveRequest struct {
	Client    string `json:"client_id"`
	Dimension string `json:"dimension"`
	Group     string `json:"group"`
}

func (h *Handlers) positions(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		id, ok := clientParam(rw, r.URL.Query().Get("client_id"))
		if !ok {
			return
		}
		h.exec(rw, r, func() (any, error) { return h.cmds.Info(id) })
	case http.MethodDelete:
		id, ok := clientParam(rw, r.URL.Query().Get("client_id"))
		if !ok {
			return
		}
		dim := r.URL.Query().Get("dimension")
		h.exec(rw, r, func() (any, error) {
			if dim == "" {
				return map[string]any{"ok": true, "cleared": "all"}, h.cmds.ClearAll(id)
			}
			removed, err := h.cmds.Clear(id, dimension.Normalize(dim))
			return map[string]any{"ok": true, "removed": removed}, err
		})
	case http.MethodPut:
		var req setRequest
		if !decodeBody(rw, r, &req) {
			return
		}
		id, ok := clientParam(rw, req.Client)
		if !ok {
			return
		}
		h.exec(rw, r, func() (any, error) {
			pose, err := h.cmds.Set(id, dimension.ID(req.Dimension), req.X, req.Y, req.Z, req.Yaw, req.Pitch)
			return map[string]any{"ok": true, "dimension": dimension.Normalize(req.Dimension), "pose": pose}, err
		})
	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) move(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req moveRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	id, ok := clientParam(rw, req.Client)
	if !ok {
		return
	}
	if req.Dimension == "" {
		http.Error(rw, "missing dimension", http.StatusBadRequest)
		return
	}
	h.exec(rw, r, func() (any, error) {
		moved, err := h.cmds.ForceMove(id, dimension.ID(req.Dimension))
		return map[string]any{"ok": moved, "dimension": dimension.Normalize(req.Dimension)}, err
	})
}

func (h *Handlers) reload(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	h.exec(rw, r, func() (any, error) {
		cfg, err := h.cmds.ReloadConfig()
		return map[string]any{"ok": true, "groups": len(cfg.Groups)}, err
	})
}

// group lists the group commands on GET and runs one on POST.
func (h *Handlers) group(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(rw, http.StatusOK, map[string]any{"groups": h.cmds.Groups()})
	case http.MethodPost:
		var req moveRequest
		if !decodeBody(rw, r, &req) {
			return
		}
		id, ok := clientParam(rw, req.Client)
		if !ok {
			return
		}
		if req.Group == "" {
			http.Error(rw, "missing group", http.StatusBadRequest)
			return
		}
		h.exec(rw, r, func() (any, error) {
			dim, err := h.cmds.GoToGroup(id, req.Group)
			return map[string]any{"ok": true, "group": req.Group, "dimension": dim}, err
		})
	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// exec runs fn on the tick goroutine and writes its result, or the error
// with a status derived from it.
func (h *Handlers) exec(rw http.ResponseWriter, r *http.Request, fn func() (any, error)) {
	var (
		out any
		err error
	)
	if h.run == nil {
		out, err = fn()
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), callTimeout)
		defer cancel()
		if callErr := h.run.Call(ctx, func() { out, err = fn() }); callErr != nil {
			writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": callErr.Error()})
			return
		}
	}
	if err != nil {
		h.log.Printf("admin: %s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(rw, statusFor(err), map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, out)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, command.ErrUnknownGroup), errors.Is(err, host.ErrDimensionNotFound):
		return http.StatusNotFound
	case errors.Is(err, command.ErrInvalidDimension):
		return http.StatusBadRequest
	case errors.Is(err, host.ErrClientGone):
		return http.StatusConflict
	case errors.Is(err, command.ErrNoReload), errors.Is(err, host.ErrMoveUnsupported):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func clientParam(rw http.ResponseWriter, s string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		http.Error(rw, "bad client_id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(rw http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(rw, "bad request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func loopbackOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next(rw, r)
	}
}

func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
