package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Tyrowin/gocluster/internal/bus"
	"github.com/Tyrowin/gocluster/internal/logger"
	"github.com/Tyrowin/gocluster/internal/registry"
)

// SendToClients delivers frame to the listed clients wherever they are
// connected. Local sockets are written directly; the rest are reached through
// a sendMessage event.
func (s *Server) SendToClients(ctx context.Context, clientIDs []string, frame []byte) error {
	if !json.Valid(frame) {
		return ErrInvalidFrame
	}

	var remote []string
	for _, id := range clientIDs {
		if c, ok := s.clients.GetClient(id); ok && c.Local() {
			c.Socket.Send(frame)
			continue
		}
		remote = append(remote, id)
	}
	if len(remote) == 0 {
		return nil
	}
	return s.bus.Publish(ctx, &bus.SendMessage{ClientIDs: remote, Data: frame})
}

// SendToClient delivers frame to one client.
func (s *Server) SendToClient(ctx context.Context, clientID string, frame []byte) error {
	return s.SendToClients(ctx, []string{clientID}, frame)
}

// SendToRoom delivers frame to every member of room except exclude.
func (s *Server) SendToRoom(ctx context.Context, room string, frame []byte, exclude ...string) error {
	if !json.Valid(frame) {
		return ErrInvalidFrame
	}
	s.deliverLocal(s.roomTargets(nil, room, exclude), frame)
	return s.bus.Publish(ctx, &bus.SendMessage{RoomName: room, ExcludeClientIDs: exclude, Data: frame})
}

// Broadcast delivers frame to every connected client except exclude.
func (s *Server) Broadcast(ctx context.Context, frame []byte, exclude ...string) error {
	if !json.Valid(frame) {
		return ErrInvalidFrame
	}
	s.deliverLocal(s.allTargets(exclude), frame)
	return s.bus.Publish(ctx, &bus.SendMessageToAll{ExcludeClientIDs: exclude, Data: frame})
}

// DisconnectClient closes a client on whichever worker owns it.
func (s *Server) DisconnectClient(ctx context.Context, clientID string) error {
	// The target may be one of ours, and the command is applied by the
	// owner only when it sees the event.
	ev := &bus.DisconnectClient{ClientID: clientID}
	ev.IncludeSender = true
	return s.bus.Publish(ctx, ev)
}

// JoinRoom adds a client to room and replicates the join. Under the
// single-room policy the client silently leaves its previous room. A client
// that already disconnected gets ErrUnknownClient.
func (s *Server) JoinRoom(ctx context.Context, clientID, room string, user *registry.User) error {
	if _, ok := s.clients.GetClient(clientID); !ok {
		return ErrUnknownClient
	}
	if _, err := s.rooms.AddClientToRoom(clientID, user, room); err != nil {
		return err
	}
	s.clients.SetRoom(clientID, room)
	s.log.Debug("client joined room", logger.ClientID(clientID), logger.Room(room))
	return s.bus.Publish(ctx, &bus.ClientJoinedRoom{ClientID: clientID, RoomName: room, User: user})
}

// LeaveRoom removes a client from room. It reports whether the client was a
// member; a leave replicates only when it changed something and broadcast is
// set.
func (s *Server) LeaveRoom(ctx context.Context, clientID, room string, broadcast bool) (bool, error) {
	if !s.rooms.RemoveClientFromRoom(room, clientID) {
		return false, nil
	}
	s.clients.UpdateClient(clientID, func(c *registry.Connection) {
		if c.RoomName == room {
			c.RoomName = ""
		}
	})
	if !broadcast {
		return true, nil
	}
	return true, s.bus.Publish(ctx, &bus.ClientLeftRoom{ClientID: clientID, RoomName: room})
}

// PublishJobCompleted routes a job result to the client that queued it.
func (s *Server) PublishJobCompleted(ctx context.Context, clientID, queue, jobID string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("server: encode job result: %w", err)
	}
	// The client may be connected to this worker.
	ev := &bus.JobCompleted{ClientID: clientID, Queue: queue, JobID: jobID, Result: raw}
	ev.IncludeSender = true
	return s.bus.Publish(ctx, ev)
}

// PublishJobError routes a job failure to the client that queued it.
func (s *Server) PublishJobError(ctx context.Context, clientID, queue, jobID string, jobErr error) error {
	msg := "job failed"
	if jobErr != nil {
		msg = jobErr.Error()
	}
	ev := &bus.JobError{ClientID: clientID, Queue: queue, JobID: jobID, Error: msg}
	ev.IncludeSender = true
	return s.bus.Publish(ctx, ev)
}

// PublishCustom sends an application event to every worker. includeSender
// makes this worker's custom handler see it too.
func (s *Server) PublishCustom(ctx context.Context, name string, data any, includeSender bool) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("server: encode custom event: %w", err)
	}
	ev := &bus.Custom{Name: name, Data: raw}
	ev.IncludeSender = includeSender
	return s.bus.Publish(ctx, ev)
}

// Clients returns a snapshot of the cluster wide connection view, optionally
// limited to one user type.
func (s *Server) Clients(userType string) []registry.Connection {
	return s.clients.GetClients(userType)
}

// Client returns one connection record.
func (s *Server) Client(clientID string) (registry.Connection, bool) {
	return s.clients.GetClient(clientID)
}

// Rooms returns a snapshot of room membership.
func (s *Server) Rooms() map[string][]registry.Member {
	return s.rooms.Rooms()
}

// IsClientInRoom reports membership.
func (s *Server) IsClientInRoom(clientID, room string) bool {
	return s.rooms.IsClientInRoom(clientID, room)
}

// deliverLocal writes frame to each local socket among ids.
func (s *Server) deliverLocal(ids []string, frame []byte) int {
	n := 0
	for _, id := range ids {
		c, ok := s.clients.GetClient(id)
		if !ok || !c.Local() || c.State != registry.StateOpen {
			continue
		}
		if c.Socket.Send(frame) {
			n++
		}
	}
	return n
}

// roomTargets is ids plus the members of room, minus exclude, deduplicated.
func (s *Server) roomTargets(ids []string, room string, exclude []string) []string {
	skip := make(map[string]struct{}, len(exclude)+len(ids))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	var out []string
	add := func(id string) {
		if _, seen := skip[id]; seen {
			return
		}
		skip[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range ids {
		add(id)
	}
	if room != "" {
		for _, m := range s.rooms.Members(room) {
			add(m.ClientID)
		}
	}
	return out
}

func (s *Server) allTargets(exclude []string) []string {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	var out []string
	for _, c := range s.clients.LocalClients() {
		if _, ok := skip[c.ID]; !ok {
			out = append(out, c.ID)
		}
	}
	return out
}
