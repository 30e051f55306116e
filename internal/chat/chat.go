// Package chat is an application handler module that relays text messages to
// a room or to everyone connected to the cluster.
package chat

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/Tyrowin/gocluster/internal/protocol"
	"github.com/Tyrowin/gocluster/internal/registry"
	"github.com/Tyrowin/gocluster/internal/router"
)

// Route coordinates of the module. Clients send chat:send and receive
// chat:message.
const (
	Type          = "chat"
	SendAction    = "send"
	MessageAction = "message"

	// MaxTextLength bounds a message in runes.
	MaxTextLength = 2000
)

// Messenger is the part of the server the module needs.
type Messenger interface {
	SendToRoom(ctx context.Context, room string, frame []byte, exclude ...string) error
	Broadcast(ctx context.Context, frame []byte, exclude ...string) error
	IsClientInRoom(clientID, room string) bool
}

// SendData is the data of an inbound chat:send envelope.
type SendData struct {
	Text     string `json:"text"`
	RoomName string `json:"roomName,omitempty"`
}

// Message is the data of an outbound chat:message envelope.
type Message struct {
	From     From   `json:"from"`
	Text     string `json:"text"`
	RoomName string `json:"roomName,omitempty"`
}

// From identifies the sender of a Message.
type From struct {
	ClientID string `json:"clientId"`
	UserID   string `json:"userId,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Module serves chat:send.
type Module struct {
	m Messenger
}

// New returns the module.
func New(m Messenger) *Module {
	return &Module{m: m}
}

// Routes implements router.Module.
func (mod *Module) Routes() []router.Entry {
	return []router.Entry{
		{Type: Type, Action: SendAction, Handler: mod.send},
	}
}

func (mod *Module) send(ctx context.Context, req router.Request) (any, error) {
	var data SendData
	if err := req.Envelope.Decode(&data); err != nil {
		return nil, err
	}

	text := strings.TrimSpace(data.Text)
	switch {
	case text == "":
		return protocol.Fail("text is required"), nil
	case utf8.RuneCountInString(text) > MaxTextLength:
		return protocol.Fail("text is too long"), nil
	case data.RoomName != "" && !mod.m.IsClientInRoom(req.ClientID, data.RoomName):
		return protocol.Fail("not a member of room " + data.RoomName), nil
	}

	frame, err := protocol.Encode(Type, MessageAction, Message{
		From:     sender(req.ClientID, req.User),
		Text:     text,
		RoomName: data.RoomName,
	})
	if err != nil {
		return nil, err
	}

	if data.RoomName != "" {
		err = mod.m.SendToRoom(ctx, data.RoomName, frame)
	} else {
		err = mod.m.Broadcast(ctx, frame)
	}
	if err != nil {
		return nil, err
	}
	return protocol.OK(nil), nil
}

func sender(clientID string, u *registry.User) From {
	f := From{ClientID: clientID}
	if u == nil {
		return f
	}
	f.UserID = u.ID
	f.Name = u.DisplayName
	if f.Name == "" {
		f.Name = u.Username
	}
	return f
}
