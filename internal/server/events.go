package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/Tyrowin/gocluster/internal/bus"
	"github.com/Tyrowin/gocluster/internal/logger"
	"github.com/Tyrowin/gocluster/internal/protocol"
	"github.com/Tyrowin/gocluster/internal/registry"
)

// Outbound envelopes for job results.
const (
	JobType            = "queue"
	JobCompletedAction = "jobCompleted"
	JobErrorAction     = "jobError"
)

// JobCompletedData is the data of a jobCompleted envelope.
type JobCompletedData struct {
	Queue  string          `json:"queue"`
	JobID  string          `json:"jobId"`
	Result json.RawMessage `json:"result,omitempty"`
}

// JobErrorData is the data of a jobError envelope.
type JobErrorData struct {
	Queue string `json:"queue"`
	JobID string `json:"jobId"`
	Error string `json:"error"`
}

// eventLoop applies bus events to the local mirrors until the subscription
// ends.
func (s *Server) eventLoop(ctx context.Context, events <-chan bus.Event, done chan<- struct{}) {
	defer close(done)
	for ev := range events {
		s.apply(ctx, ev)
	}
}

func (s *Server) apply(ctx context.Context, ev bus.Event) {
	origin := bus.MetaOf(ev).WorkerID

	switch e := ev.(type) {
	case *bus.ClientConnected:
		if c, ok := s.clients.GetClient(e.ClientID); ok && c.Local() {
			return
		}
		if s.gone.has(e.ClientID, s.now()) {
			return
		}
		s.clients.AddClient(registry.Connection{
			ID:           e.ClientID,
			WorkerID:     origin,
			LastActivity: e.LastActivity,
			User:         e.User,
		})

	case *bus.ClientDisconnected:
		if c, ok := s.clients.GetClient(e.ClientID); ok && c.Local() {
			return
		}
		s.clients.RemoveClient(e.ClientID)
		s.rooms.RemoveClientFromAllRooms(e.ClientID)
		s.gone.add(e.ClientID, s.now())

	case *bus.DisconnectClient:
		c, ok := s.clients.GetClient(e.ClientID)
		if !ok {
			return
		}
		s.clients.DisconnectClient(e.ClientID)
		if !c.Local() {
			s.rooms.RemoveClientFromAllRooms(e.ClientID)
		}

	case *bus.ClientJoinedRoom:
		if _, ok := s.clients.GetClient(e.ClientID); !ok {
			if s.gone.has(e.ClientID, s.now()) {
				return
			}
			s.clients.AddClient(registry.Connection{ID: e.ClientID, WorkerID: origin, User: e.User})
		}
		if _, err := s.rooms.AddClientToRoom(e.ClientID, e.User, e.RoomName); err != nil && !errors.Is(err, registry.ErrAlreadyInRoom) {
			s.log.Debug("ignoring replicated join", logger.ClientID(e.ClientID), logger.Error(err))
			return
		}
		s.clients.SetRoom(e.ClientID, e.RoomName)
		if e.User != nil {
			s.clients.MergeUser(e.ClientID, *e.User)
		}

	case *bus.ClientLeftRoom:
		s.rooms.RemoveClientFromRoom(e.RoomName, e.ClientID)
		s.clients.UpdateClient(e.ClientID, func(c *registry.Connection) {
			if c.RoomName == e.RoomName {
				c.RoomName = ""
			}
		})

	case *bus.SendMessage:
		s.deliverLocal(s.roomTargets(e.ClientIDs, e.RoomName, e.ExcludeClientIDs), e.Data)

	case *bus.SendMessageToAll:
		s.deliverLocal(s.allTargets(e.ExcludeClientIDs), e.Data)

	case *bus.MessageError:
		s.deliverLocal([]string{e.ClientID}, protocol.EncodeError(e.Error))

	case *bus.JobCompleted:
		s.sendEnvelope(e.ClientID, JobType, JobCompletedAction, JobCompletedData{Queue: e.Queue, JobID: e.JobID, Result: e.Result})

	case *bus.JobError:
		s.sendEnvelope(e.ClientID, JobType, JobErrorAction, JobErrorData{Queue: e.Queue, JobID: e.JobID, Error: e.Error})

	case *bus.Custom:
		if s.onCustom != nil {
			s.onCustom(ctx, e)
		}

	default:
		s.log.Warn("unhandled bus event", logger.Channel(string(ev.Channel())))
	}
}

// sendEnvelope writes an envelope to a local client, if it is one.
func (s *Server) sendEnvelope(clientID, typ, action string, data any) {
	c, ok := s.clients.GetClient(clientID)
	if !ok || !c.Local() {
		return
	}
	frame, err := protocol.Encode(typ, action, data)
	if err != nil {
		s.log.Warn("encoding envelope failed", slog.String("type", typ), slog.String("action", action), logger.Error(err))
		return
	}
	c.Socket.Send(frame)
}
