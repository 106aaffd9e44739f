package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"worldmemory.ai/internal/command"
	"worldmemory.ai/internal/host"
	"worldmemory.ai/internal/hostsim"
	"worldmemory.ai/internal/protocol"
	"worldmemory.ai/internal/sim/dimension"
	"worldmemory.ai/internal/sim/voxel"
)

const (
	defaultQueue = 32
	maxQueue     = 256
	callTimeout  = 5 * time.Second
)

type Server struct {
	host *hostsim.Server
	cmds *command.Service
	log  *log.Logger

	upgrader websocket.Upgrader

	connected     atomic.Int64
	droppedEvents atomic.Uint64
}

type Stats struct {
	Connected     int64
	DroppedEvents uint64
}

func NewServer(h *hostsim.Server, cmds *command.Service, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		host: h,
		cmds: cmds,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Stats() Stats {
	return Stats{Connected: s.connected.Load(), DroppedEvents: s.droppedEvents.Load()}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		clientID, out := s.handshake(ctx, conn)
		if clientID == uuid.Nil {
			return
		}
		s.connected.Add(1)
		defer s.connected.Add(-1)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeAct {
				continue
			}
			var act protocol.ActMsg
			if err := json.Unmarshal(msg, &act); err != nil {
				s.push(out, ack(act.ID, protocol.ErrProtoBadRequest, err.Error()))
				continue
			}
			if act.ProtocolVersion != protocol.Version {
				s.push(out, ack(act.ID, protocol.ErrProtoBadRequest, "bad protocol_version"))
				continue
			}
			s.push(out, s.handleAct(ctx, clientID, act))
		}

		// Cleanup.
		s.host.Leave(clientID)
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (uuid.UUID, chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return uuid.Nil, nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return uuid.Nil, nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "bad HELLO")
		return uuid.Nil, nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return uuid.Nil, nil
	}
	var id uuid.UUID
	if hello.ClientID != "" {
		if id, err = uuid.Parse(hello.ClientID); err != nil {
			closeWith(conn, websocket.ClosePolicyViolation, "bad client_id")
			return uuid.Nil, nil
		}
	}
	if hello.Name == "" {
		hello.Name = "client"
	}

	q := hello.MaxQueue
	if q <= 0 {
		q = defaultQueue
	}
	if q > maxQueue {
		q = maxQueue
	}
	out := make(chan []byte, q)

	resp, err := s.host.Join(ctx, hostsim.JoinRequest{
		ID:     id,
		Name:   hello.Name,
		Notify: func(n hostsim.Notice) { s.push(out, eventFor(n)) },
	})
	if err != nil {
		s.log.Printf("ws: join %s: %v", hello.Name, err)
		closeWith(conn, websocket.CloseTryAgainLater, err.Error())
		return uuid.Nil, nil
	}

	dims := s.host.DimensionIDs()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ClientID:        resp.ID.String(),
		Dimension:       string(resp.Dimension),
		Pose:            wirePose(resp.Pose),
		Tick:            resp.Tick,
		TickRateHz:      s.host.TickRateHz(),
		Dimensions:      make([]string, 0, len(dims)),
	}
	for _, d := range dims {
		welcome.Dimensions = append(welcome.Dimensions, string(d))
	}
	if s.cmds != nil {
		welcome.Groups = s.cmds.Groups()
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.host.Leave(resp.ID)
		return uuid.Nil, nil
	}
	return resp.ID, out
}

// handleAct queues host actions for the next tick and runs commands on the
// tick goroutine. The returned ACK is already encoded.
func (s *Server) handleAct(ctx context.Context, id uuid.UUID, act protocol.ActMsg) []byte {
	a := hostsim.Action{Client: id}
	switch act.Action {
	case protocol.ActionMove:
		if act.Pose == nil {
			return ack(act.ID, protocol.ErrBadRequest, "move needs pose")
		}
		a.Kind, a.Pose = hostsim.ActMove, localPose(*act.Pose)
	case protocol.ActionDie:
		a.Kind = hostsim.ActDie
	case protocol.ActionUse, protocol.ActionIgnite:
		a.Kind, a.Item = hostsim.ActUse, act.Item
		if act.Action == protocol.ActionIgnite {
			a.Kind = hostsim.ActIgnite
			if act.At == nil {
				return ack(act.ID, protocol.ErrBadRequest, "ignite needs at")
			}
		} else if act.Item == "" {
			return ack(act.ID, protocol.ErrBadRequest, "use needs item")
		}
		if act.At != nil {
			a.At = cell(*act.At)
		}
		if act.Face != nil {
			a.Face = cell(*act.Face)
		}
	case protocol.ActionTravel:
		if act.Dimension == "" {
			return ack(act.ID, protocol.ErrBadRequest, "travel needs dimension")
		}
		a.Kind, a.Dimension = hostsim.ActTravel, dimension.ID(act.Dimension)
	case protocol.ActionCommand:
		return s.runCommand(ctx, id, act)
	default:
		return ack(act.ID, protocol.ErrBadRequest, fmt.Sprintf("unknown action %q", act.Action))
	}
	if err := s.host.Submit(a); err != nil {
		return ack(act.ID, protocol.ErrBusy, err.Error())
	}
	return accepted(act.ID, s.host.Tick(), "", nil)
}

func (s *Server) runCommand(ctx context.Context, id uuid.UUID, act protocol.ActMsg) []byte {
	if s.cmds == nil {
		return ack(act.ID, protocol.ErrBadRequest, "commands disabled")
	}
	var (
		dim   dimension.ID
		lines []string
		err   error
	)
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	callErr := s.host.Call(ctx, func() {
		switch act.Command {
		case protocol.CommandGroup:
			dim, err = s.cmds.GoToGroup(id, act.Group)
		case protocol.CommandSurvival:
			dim, err = s.cmds.Survival(id)
		case protocol.CommandInfo:
			var info command.Info
			info, err = s.cmds.Info(id)
			lines = info.Lines()
		default:
			err = fmt.Errorf("unknown command %q", act.Command)
		}
	})
	if callErr != nil {
		return ack(act.ID, protocol.ErrBusy, callErr.Error())
	}
	if err != nil {
		return ack(act.ID, errorCode(err), err.Error())
	}
	return accepted(act.ID, s.host.Tick(), dim, lines)
}

// push never blocks: notices arrive on the tick goroutine.
func (s *Server) push(out chan []byte, b []byte) {
	if b == nil {
		return
	}
	select {
	case out <- b:
	default:
		s.droppedEvents.Add(1)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, command.ErrUnknownGroup):
		return protocol.ErrUnknownGroup
	case errors.Is(err, host.ErrDimensionNotFound), errors.Is(err, command.ErrInvalidDimension):
		return protocol.ErrUnknownDim
	case errors.Is(err, host.ErrMoveUnsupported):
		return protocol.ErrMoveUnsupported
	case errors.Is(err, host.ErrClientGone):
		return protocol.ErrClientGone
	}
	return protocol.ErrInternal
}

func eventFor(n hostsim.Notice) []byte {
	ev := protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		Tick:            n.Tick,
		Dimension:       string(n.Dimension),
		Detail:          n.Detail,
	}
	p := wirePose(n.Pose)
	ev.Pose = &p
	switch n.Kind {
	case hostsim.NoticePlaced:
		ev.Kind = protocol.EventPlacement
	case hostsim.NoticeMoved:
		ev.Kind, ev.From, ev.Detail = protocol.EventTransfer, n.Detail, ""
	case hostsim.NoticeOutcome:
		ev.Kind, ev.Outcome = protocol.EventOutcome, n.Outcome
	case hostsim.NoticeDied:
		ev.Kind = protocol.EventDeath
	case hostsim.NoticeRespawned:
		ev.Kind = protocol.EventRespawn
	case hostsim.NoticeItem:
		ev.Kind, ev.Pose = protocol.EventItem, nil
	default:
		return nil
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return nil
	}
	return b
}

func ack(id, code, msg string) []byte {
	b, _ := json.Marshal(protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          id,
		Code:            code,
		Message:         msg,
	})
	return b
}

func accepted(id string, tick int64, dim dimension.ID, lines []string) []byte {
	b, _ := json.Marshal(protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          id,
		Accepted:        true,
		ServerTick:      tick,
		Dimension:       string(dim),
		Lines:           lines,
	})
	return b
}

func wirePose(p voxel.Pose) protocol.Pose {
	return protocol.Pose{X: p.X, Y: p.Y, Z: p.Z, Yaw: p.Yaw, Pitch: p.Pitch}
}

func localPose(p protocol.Pose) voxel.Pose {
	return voxel.Pose{X: p.X, Y: p.Y, Z: p.Z, Yaw: p.Yaw, Pitch: p.Pitch}
}

func cell(v [3]int) voxel.Vec3i { return voxel.Vec3i{X: v[0], Y: v[1], Z: v[2]} }

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
