package server

import (
	"context"
	"errors"
	"time"

	"github.com/Tyrowin/gocluster/internal/logger"
	"github.com/Tyrowin/gocluster/internal/profile"
	"github.com/Tyrowin/gocluster/internal/protocol"
	"github.com/Tyrowin/gocluster/internal/registry"
	"github.com/Tyrowin/gocluster/internal/router"
)

// SystemType is the envelope type of the built-in handlers.
const SystemType = "system"

type joinRoomData struct {
	RoomName string `json:"roomName"`
	UserID   string `json:"userId,omitempty"`
}

type roomResult struct {
	RoomName string         `json:"roomName"`
	ClientID string         `json:"clientId"`
	User     *registry.User `json:"user,omitempty"`
	Left     *bool          `json:"left,omitempty"`
}

type pingResult struct {
	Pong       bool      `json:"pong"`
	ServerTime time.Time `json:"serverTime"`
	WorkerID   string    `json:"workerId"`
}

type whoamiResult struct {
	ClientID string         `json:"clientId"`
	WorkerID string         `json:"workerId"`
	User     *registry.User `json:"user,omitempty"`
	Rooms    []string       `json:"rooms"`
}

func (s *Server) systemRoutes() router.Table {
	return router.Table{
		{Type: SystemType, Action: "joinRoom", Handler: s.handleJoinRoom},
		{Type: SystemType, Action: "leaveRoom", Handler: s.handleLeaveRoom},
		{Type: SystemType, Action: "ping", Handler: s.handlePing},
		{Type: SystemType, Action: "whoami", Handler: s.handleWhoami},
	}
}

func (s *Server) handleJoinRoom(ctx context.Context, req router.Request) (any, error) {
	var data joinRoomData
	if err := req.Envelope.Decode(&data); err != nil {
		return nil, err
	}
	if data.RoomName == "" {
		return protocol.Fail("roomName is required"), nil
	}

	user, err := s.memberUser(ctx, req.User, data.UserID)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return protocol.Fail("unknown user"), nil
		}
		return nil, err
	}

	if err := s.JoinRoom(ctx, req.ClientID, data.RoomName, user); err != nil {
		if errors.Is(err, registry.ErrAlreadyInRoom) {
			return protocol.Fail("already in room " + data.RoomName), nil
		}
		return nil, err
	}
	if user != nil {
		s.clients.MergeUser(req.ClientID, *user)
	}

	return protocol.OK(roomResult{RoomName: data.RoomName, ClientID: req.ClientID, User: user}), nil
}

// memberUser resolves the user snapshot stored with a room member. An
// explicit userId must exist in the profile store; the authenticated user is
// enriched when a profile is found and kept as is otherwise.
func (s *Server) memberUser(ctx context.Context, authed *registry.User, userID string) (*registry.User, error) {
	user := authed.Clone()
	explicit := userID != ""
	if !explicit && user != nil {
		userID = user.ID
	}
	if userID == "" {
		return user, nil
	}

	bare := func() *registry.User {
		if explicit && (user == nil || user.ID != userID) {
			return &registry.User{ID: userID}
		}
		return user
	}
	if s.profiles == nil {
		return bare(), nil
	}

	p, err := s.profiles.Lookup(ctx, userID)
	if err != nil {
		if !errors.Is(err, profile.ErrNotFound) {
			s.log.Warn("profile lookup failed; joining without profile", logger.Error(err))
			return bare(), nil
		}
		if explicit {
			return nil, err
		}
		return user, nil
	}

	found := p.User()
	if user == nil || user.ID != found.ID {
		return &found, nil
	}
	user.Merge(found)
	return user, nil
}

func (s *Server) handleLeaveRoom(ctx context.Context, req router.Request) (any, error) {
	var data joinRoomData
	if err := req.Envelope.Decode(&data); err != nil {
		return nil, err
	}
	if data.RoomName == "" {
		return protocol.Fail("roomName is required"), nil
	}

	left, err := s.LeaveRoom(ctx, req.ClientID, data.RoomName, true)
	if err != nil {
		return nil, err
	}
	return protocol.OK(roomResult{RoomName: data.RoomName, ClientID: req.ClientID, Left: &left}), nil
}

func (s *Server) handlePing(context.Context, router.Request) (any, error) {
	return protocol.OK(pingResult{Pong: true, ServerTime: s.now().UTC(), WorkerID: s.cfg.WorkerID}), nil
}

func (s *Server) handleWhoami(_ context.Context, req router.Request) (any, error) {
	rooms := s.rooms.RoomsOf(req.ClientID)
	if rooms == nil {
		rooms = []string{}
	}
	return protocol.OK(whoamiResult{
		ClientID: req.ClientID,
		WorkerID: s.cfg.WorkerID,
		User:     req.User,
		Rooms:    rooms,
	}), nil
}
