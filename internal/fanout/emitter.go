package fanout

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Emitter is the publishing side of the fanout layer. Its methods never
// fail; publish errors are logged and counted.
type Emitter struct {
	bp        Backplane
	log       *slog.Logger
	published metric.Int64Counter
	failed    metric.Int64Counter
}

func NewEmitter(bp Backplane, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	meter := otel.Meter("github.com/pliu/huddle/internal/fanout")
	published, _ := meter.Int64Counter("fanout_published_total",
		metric.WithDescription("Envelopes handed to the backplane"))
	failed, _ := meter.Int64Counter("fanout_failed_total",
		metric.WithDescription("Envelopes the backplane rejected"))
	return &Emitter{
		bp:        bp,
		log:       logger.With("component", "fanout"),
		published: published,
		failed:    failed,
	}
}

func (e *Emitter) EmitToUser(ctx context.Context, userID, event string, payload any) {
	e.emit(ctx, UserRoom(userID), "", event, payload)
}

// EmitToUserExcept skips the originating connection, typically so a device
// does not echo its own action.
func (e *Emitter) EmitToUserExcept(ctx context.Context, originConn, userID, event string, payload any) {
	e.emit(ctx, UserRoom(userID), originConn, event, payload)
}

func (e *Emitter) EmitToGroup(ctx context.Context, groupID, event string, payload any) {
	e.emit(ctx, GroupRoom(groupID), "", event, payload)
}

func (e *Emitter) EmitToGroupExcept(ctx context.Context, originConn, groupID, event string, payload any) {
	e.emit(ctx, GroupRoom(groupID), originConn, event, payload)
}

// JoinUserToGroup subscribes every live connection of the user to the
// group's room.
func (e *Emitter) JoinUserToGroup(ctx context.Context, userID, groupID string) {
	e.publish(ctx, Envelope{Op: OpJoin, Room: UserRoom(userID), Target: GroupRoom(groupID)})
}

func (e *Emitter) LeaveUserFromGroup(ctx context.Context, userID, groupID string) {
	e.publish(ctx, Envelope{Op: OpLeave, Room: UserRoom(userID), Target: GroupRoom(groupID)})
}

// EvictGroup removes every connection from the group's room.
func (e *Emitter) EvictGroup(ctx context.Context, groupID string) {
	e.publish(ctx, Envelope{Op: OpEvict, Room: GroupRoom(groupID)})
}

// DisconnectUser closes every live connection of the user on every process.
func (e *Emitter) DisconnectUser(ctx context.Context, userID string) {
	e.publish(ctx, Envelope{Op: OpDisconnect, Room: UserRoom(userID)})
}

func (e *Emitter) emit(ctx context.Context, room, except, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.log.Error("marshal payload", "event", event, "room", room, "error", err)
		return
	}
	e.publish(ctx, Envelope{Op: OpEmit, Room: room, Except: except, Event: event, Payload: data})
}

func (e *Emitter) publish(ctx context.Context, env Envelope) {
	attrs := metric.WithAttributes(attribute.String("op", string(env.Op)))
	if err := e.bp.Publish(ctx, env); err != nil {
		e.failed.Add(ctx, 1, attrs)
		e.log.Warn("publish failed", "op", env.Op, "room", env.Room, "event", env.Event, "error", err)
		return
	}
	e.published.Add(ctx, 1, attrs)
}
