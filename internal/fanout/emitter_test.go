package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu   sync.Mutex
	envs []Envelope
}

func (c *collector) Apply(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
}

type brokenBackplane struct{ calls int }

func (b *brokenBackplane) Publish(context.Context, Envelope) error {
	b.calls++
	return errors.New("broker unreachable")
}
func (b *brokenBackplane) Subscribe(Applier) error { return nil }
func (b *brokenBackplane) Close() error            { return nil }

func TestLocalDeliversInOrderToEveryApplier(t *testing.T) {
	bp := NewLocal()
	a, b := &collector{}, &collector{}
	require.NoError(t, bp.Subscribe(a))
	require.NoError(t, bp.Subscribe(b))

	e := NewEmitter(bp, nil)
	ctx := context.Background()
	e.EmitToUser(ctx, "u1", "first", map[string]string{"n": "1"})
	e.EmitToGroupExcept(ctx, "conn-1", "g1", "second", nil)
	e.JoinUserToGroup(ctx, "u1", "g1")
	e.DisconnectUser(ctx, "u1")

	require.Len(t, a.envs, 4)
	assert.Equal(t, b.envs, a.envs)

	assert.Equal(t, Envelope{Op: OpEmit, Room: "user_u1", Event: "first", Payload: []byte(`{"n":"1"}`)}, a.envs[0])
	assert.Equal(t, "group_g1", a.envs[1].Room)
	assert.Equal(t, "conn-1", a.envs[1].Except)
	assert.Equal(t, Envelope{Op: OpJoin, Room: "user_u1", Target: "group_g1"}, a.envs[2])
	assert.Equal(t, Envelope{Op: OpDisconnect, Room: "user_u1"}, a.envs[3])
}

func TestPublishFailuresAreSwallowed(t *testing.T) {
	bp := &brokenBackplane{}
	e := NewEmitter(bp, nil)

	assert.NotPanics(t, func() {
		e.EmitToGroup(context.Background(), "g1", "message:group", map[string]string{"body": "hi"})
		e.EvictGroup(context.Background(), "g1")
	})
	assert.Equal(t, 2, bp.calls)
}

func TestUnmarshalablePayloadIsDropped(t *testing.T) {
	bp := NewLocal()
	c := &collector{}
	require.NoError(t, bp.Subscribe(c))

	NewEmitter(bp, nil).EmitToUser(context.Background(), "u1", "bad", make(chan int))
	assert.Empty(t, c.envs)
}
