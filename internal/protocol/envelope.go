// Package protocol defines the JSON envelopes exchanged with WebSocket clients
// and the route keys used to dispatch them.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Error envelope coordinates used for every error sent to a client.
const (
	ErrorType   = "error"
	ErrorAction = "message"
)

// Route identifies a handler by message type and action.
type Route struct {
	Type   string
	Action string
}

// String returns the route key "type:action".
func (r Route) String() string {
	return r.Type + ":" + r.Action
}

// Envelope is an inbound or outbound message.
type Envelope struct {
	Type   string          `json:"type"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Route returns the envelope's route key.
func (e Envelope) Route() Route {
	return Route{Type: e.Type, Action: e.Action}
}

// Decode unmarshals the envelope data into v. Missing data decodes as an
// empty object so handlers see zero values.
func (e Envelope) Decode(v any) error {
	data := bytes.TrimSpace(e.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &ProtocolError{Reason: fmt.Sprintf("invalid data for %s", e.Route()), Err: err}
	}
	return nil
}

// Response is the reply to an envelope a handler answered.
type Response struct {
	Type     string `json:"type"`
	Action   string `json:"action"`
	Response any    `json:"response"`
}

// Result is the conventional response body of the built-in handlers.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK wraps data in a successful Result.
func OK(data any) Result {
	return Result{Success: true, Data: data}
}

// Fail builds an unsuccessful Result carrying msg as its error.
func Fail(msg string) Result {
	return Result{Success: false, Error: msg}
}

// ErrorData is the payload of an error envelope.
type ErrorData struct {
	Error string `json:"error"`
}

// Parse decodes a raw frame into an Envelope.
func Parse(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, &ProtocolError{Reason: "invalid JSON", Err: err}
	}
	if env.Type == "" || env.Action == "" {
		return Envelope{}, &ProtocolError{Reason: "missing type or action"}
	}
	return env, nil
}

// Encode marshals an outbound envelope with the given data.
func Encode(typ, action string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Action: action, Data: raw})
}

// EncodeResponse marshals a handler reply.
func EncodeResponse(r Response) ([]byte, error) {
	return json.Marshal(r)
}

// EncodeError marshals the error envelope sent to a single client.
func EncodeError(msg string) []byte {
	// ErrorData only holds a string; marshaling cannot fail.
	b, _ := Encode(ErrorType, ErrorAction, ErrorData{Error: msg})
	return b
}

// ResponseError extracts a non-empty "error" field from a handler response,
// whether it is a Result, a map, or any struct marshaling one.
func ResponseError(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case Result:
		return r.Error
	case *Result:
		if r == nil {
			return ""
		}
		return r.Error
	case map[string]any:
		if s, ok := r["error"].(string); ok {
			return s
		}
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	var probe struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &probe) != nil {
		return ""
	}
	return probe.Error
}
