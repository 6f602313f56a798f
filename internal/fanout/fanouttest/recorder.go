// Package fanouttest captures published envelopes for assertions.
package fanouttest

import (
	"encoding/json"
	"sync"

	"github.com/pliu/huddle/internal/fanout"
)

type Recorder struct {
	mu        sync.Mutex
	envelopes []fanout.Envelope
}

// New returns an emitter on a local backplane whose envelopes are recorded.
func New() (*fanout.Emitter, *Recorder) {
	rec := &Recorder{}
	bp := fanout.NewLocal()
	bp.Subscribe(rec)
	return fanout.NewEmitter(bp, nil), rec
}

func (r *Recorder) Apply(env fanout.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, env)
}

func (r *Recorder) All() []fanout.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]fanout.Envelope(nil), r.envelopes...)
}

// Events returns the emit envelopes carrying event, in publish order.
func (r *Recorder) Events(event string) []fanout.Envelope {
	var out []fanout.Envelope
	for _, env := range r.All() {
		if env.Op == fanout.OpEmit && env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func (r *Recorder) Count(event string) int {
	return len(r.Events(event))
}

// Rooms lists the rooms event was emitted to.
func (r *Recorder) Rooms(event string) []string {
	var rooms []string
	for _, env := range r.Events(event) {
		rooms = append(rooms, env.Room)
	}
	return rooms
}

func (r *Recorder) Ops(op fanout.Op) []fanout.Envelope {
	var out []fanout.Envelope
	for _, env := range r.All() {
		if env.Op == op {
			out = append(out, env)
		}
	}
	return out
}

// Decode unmarshals the payload of an emit envelope.
func Decode[T any](env fanout.Envelope) (T, error) {
	var v T
	err := json.Unmarshal(env.Payload, &v)
	return v, err
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = nil
}
