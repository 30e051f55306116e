package logger

import "log/slog"

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// ClientID records the connection identifier under the key "client_id".
func ClientID(id string) slog.Attr {
	return slog.String("client_id", id)
}

// WorkerID records the owning worker under the key "worker_id".
func WorkerID(id string) slog.Attr {
	return slog.String("worker_id", id)
}

// Room records a room name under the key "room".
func Room(name string) slog.Attr {
	return slog.String("room", name)
}

// Channel records a bus channel under the key "channel".
func Channel(name string) slog.Attr {
	return slog.String("channel", name)
}

// Route records a router key under the key "route".
func Route(key string) slog.Attr {
	return slog.String("route", key)
}

// Remote records the peer address under the key "remote".
func Remote(addr string) slog.Attr {
	return slog.String("remote", addr)
}
