package server

import "time"

// goneTTL is how long a remote disconnect is remembered. It only has to
// outlast the skew between two bus channels.
const goneTTL = time.Minute

// tombstones remembers remote clients whose disconnect was applied, so a
// connect or join that arrives late on another channel cannot bring them
// back. It is owned by the event loop and is not safe for concurrent use.
type tombstones struct {
	ttl   time.Duration
	at    map[string]time.Time
	swept time.Time
}

func newTombstones(ttl time.Duration) *tombstones {
	return &tombstones{ttl: ttl, at: make(map[string]time.Time)}
}

func (t *tombstones) add(id string, now time.Time) {
	if t == nil {
		return
	}
	t.at[id] = now
	if now.Sub(t.swept) < t.ttl {
		return
	}
	for k, since := range t.at {
		if now.Sub(since) >= t.ttl {
			delete(t.at, k)
		}
	}
	t.swept = now
}

func (t *tombstones) has(id string, now time.Time) bool {
	if t == nil {
		return false
	}
	since, ok := t.at[id]
	return ok && now.Sub(since) < t.ttl
}
