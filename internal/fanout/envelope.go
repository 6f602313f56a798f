// Package fanout delivers events to rooms of live connections. A room is
// named after a user ("user_<id>") or a group ("group_<id>"). Envelopes are
// published on a Backplane and applied by every process holding sockets.
package fanout

import "encoding/json"

type Op string

const (
	// OpEmit sends Event to every connection in Room except Except.
	OpEmit Op = "emit"
	// OpJoin adds every connection in Room to Target.
	OpJoin Op = "join"
	// OpLeave removes every connection in Room from Target.
	OpLeave Op = "leave"
	// OpEvict empties Room.
	OpEvict Op = "evict"
	// OpDisconnect closes every connection in Room.
	OpDisconnect Op = "disconnect"
)

type Envelope struct {
	Op      Op              `json:"op"`
	Room    string          `json:"room"`
	Target  string          `json:"target,omitempty"`
	Except  string          `json:"except,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func UserRoom(userID string) string { return "user_" + userID }

func GroupRoom(groupID string) string { return "group_" + groupID }

// Applier carries out envelopes against the connections a process holds.
type Applier interface {
	Apply(env Envelope)
}

type ApplierFunc func(env Envelope)

func (f ApplierFunc) Apply(env Envelope) { f(env) }
