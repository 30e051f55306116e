package bus

import (
	"encoding/json"
	"time"

	"github.com/Tyrowin/gocluster/internal/registry"
)

// ChannelSetVersion identifies the channel set and payload shapes below.
// Workers with different versions must not share a broker namespace.
const ChannelSetVersion = 1

// Channel is one of the fixed bus channels.
type Channel string

// Bus channels. Each event type is published on exactly one of them.
const (
	ChannelClientConnected    Channel = "clientConnected"
	ChannelClientDisconnected Channel = "clientDisconnected"
	ChannelDisconnectClient   Channel = "disconnectClient"
	ChannelClientJoinedRoom   Channel = "clientJoinedRoom"
	ChannelClientLeftRoom     Channel = "clientLeftRoom"
	ChannelSendMessage        Channel = "sendMessage"
	ChannelSendMessageToAll   Channel = "sendMessageToAll"
	ChannelMessageError       Channel = "messageError"
	ChannelJobCompleted       Channel = "queueJobCompleted"
	ChannelJobError           Channel = "queueJobError"
	ChannelCustom             Channel = "custom"
)

// Channels returns the complete channel set.
func Channels() []Channel {
	return []Channel{
		ChannelClientConnected,
		ChannelClientDisconnected,
		ChannelDisconnectClient,
		ChannelClientJoinedRoom,
		ChannelClientLeftRoom,
		ChannelSendMessage,
		ChannelSendMessageToAll,
		ChannelMessageError,
		ChannelJobCompleted,
		ChannelJobError,
		ChannelCustom,
	}
}

// Meta is carried by every event.
type Meta struct {
	WorkerID      string `json:"workerId"`
	IncludeSender bool   `json:"includeSender,omitempty"`
}

func (m *Meta) meta() *Meta { return m }

// Event is the closed set of bus events. Only the types in this file
// implement it.
type Event interface {
	Channel() Channel
	meta() *Meta
}

// MetaOf returns the metadata of ev.
func MetaOf(ev Event) Meta {
	return *ev.meta()
}

// ClientConnected announces a new socket accepted by WorkerID.
type ClientConnected struct {
	Meta
	ClientID     string         `json:"clientId"`
	User         *registry.User `json:"user,omitempty"`
	LastActivity time.Time      `json:"lastActivity"`
}

// ClientDisconnected announces that a socket owned by WorkerID went away.
type ClientDisconnected struct {
	Meta
	ClientID string `json:"clientId"`
}

// DisconnectClient asks whichever worker owns ClientID to close it.
type DisconnectClient struct {
	Meta
	ClientID string `json:"clientId"`
}

// ClientJoinedRoom replicates a room join.
type ClientJoinedRoom struct {
	Meta
	ClientID string         `json:"clientId"`
	RoomName string         `json:"roomName"`
	User     *registry.User `json:"user,omitempty"`
}

// ClientLeftRoom replicates a room leave.
type ClientLeftRoom struct {
	Meta
	ClientID string `json:"clientId"`
	RoomName string `json:"roomName"`
}

// SendMessage delivers Data to the listed clients and/or the members of
// RoomName, minus ExcludeClientIDs.
type SendMessage struct {
	Meta
	ClientIDs        []string        `json:"clientIds,omitempty"`
	RoomName         string          `json:"roomName,omitempty"`
	ExcludeClientIDs []string        `json:"excludeClientIds,omitempty"`
	Data             json.RawMessage `json:"data"`
}

// SendMessageToAll delivers Data to every socket except ExcludeClientIDs.
type SendMessageToAll struct {
	Meta
	ExcludeClientIDs []string        `json:"excludeClientIds,omitempty"`
	Data             json.RawMessage `json:"data"`
}

// MessageError reports a failure to the client that caused it.
type MessageError struct {
	Meta
	ClientID string `json:"clientId"`
	Error    string `json:"error"`
}

// JobCompleted carries the result of a background job back to a client.
type JobCompleted struct {
	Meta
	ClientID string          `json:"clientId"`
	Queue    string          `json:"queue"`
	JobID    string          `json:"jobId"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// JobError carries a background job failure back to a client.
type JobError struct {
	Meta
	ClientID string `json:"clientId"`
	Queue    string `json:"queue"`
	JobID    string `json:"jobId"`
	Error    string `json:"error"`
}

// Custom is an application defined event.
type Custom struct {
	Meta
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (*ClientConnected) Channel() Channel    { return ChannelClientConnected }
func (*ClientDisconnected) Channel() Channel { return ChannelClientDisconnected }
func (*DisconnectClient) Channel() Channel   { return ChannelDisconnectClient }
func (*ClientJoinedRoom) Channel() Channel   { return ChannelClientJoinedRoom }
func (*ClientLeftRoom) Channel() Channel     { return ChannelClientLeftRoom }
func (*SendMessage) Channel() Channel        { return ChannelSendMessage }
func (*SendMessageToAll) Channel() Channel   { return ChannelSendMessageToAll }
func (*MessageError) Channel() Channel       { return ChannelMessageError }
func (*JobCompleted) Channel() Channel       { return ChannelJobCompleted }
func (*JobError) Channel() Channel           { return ChannelJobError }
func (*Custom) Channel() Channel             { return ChannelCustom }

func newEvent(ch Channel) Event {
	switch ch {
	case ChannelClientConnected:
		return &ClientConnected{}
	case ChannelClientDisconnected:
		return &ClientDisconnected{}
	case ChannelDisconnectClient:
		return &DisconnectClient{}
	case ChannelClientJoinedRoom:
		return &ClientJoinedRoom{}
	case ChannelClientLeftRoom:
		return &ClientLeftRoom{}
	case ChannelSendMessage:
		return &SendMessage{}
	case ChannelSendMessageToAll:
		return &SendMessageToAll{}
	case ChannelMessageError:
		return &MessageError{}
	case ChannelJobCompleted:
		return &JobCompleted{}
	case ChannelJobError:
		return &JobError{}
	case ChannelCustom:
		return &Custom{}
	default:
		return nil
	}
}
