package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pliu/huddle/internal/apperr"
	"github.com/pliu/huddle/internal/messages"
	"github.com/pliu/huddle/internal/middleware"
	"github.com/pliu/huddle/internal/presence"
	"github.com/pliu/huddle/internal/requests"
)

const (
	EventException = "exception"
	EventAck       = "ack"
	EventLogout    = "logout"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type directBody struct {
	ID          string   `json:"id"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments"`
}

type groupBody struct {
	GroupID     string   `json:"group_id"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments"`
}

// ErrorBody is the payload of exception frames and HTTP error responses.
type ErrorBody struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

func errorBody(err error) ErrorBody {
	return ErrorBody{Kind: apperr.KindOf(err), Message: apperr.MessageOf(err)}
}

// Gateway upgrades HTTP requests to sockets and routes inbound frames to the
// services.
type Gateway struct {
	hub      *Hub
	authn    middleware.Authenticator
	presence *presence.Manager
	messages *messages.Service
	requests *requests.Service
	grace    time.Duration
	log      *slog.Logger
}

func NewGateway(hub *Hub, authn middleware.Authenticator, pm *presence.Manager, msgs *messages.Service, reqs *requests.Service, grace time.Duration, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		hub:      hub,
		authn:    authn,
		presence: pm,
		messages: msgs,
		requests: reqs,
		grace:    grace,
		log:      logger.With("component", "gateway"),
	}
}

// ServeHTTP handles GET /ws. The token comes from the query string or the
// Authorization header. A socket that fails to authenticate is told why and
// closed after the grace period.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("upgrade failed", "error", err)
		return
	}
	ctx := context.WithoutCancel(r.Context())

	user, err := g.authn.Authenticate(ctx, middleware.BearerToken(r))
	if err != nil {
		g.reject(conn, err)
		return
	}

	c := NewClient(conn, user.ID)
	g.hub.Register(c)
	if err := g.presence.OnConnect(ctx, c.ID, user.ID); err != nil {
		g.hub.Unregister(c)
		g.reject(conn, err)
		return
	}

	go c.writePump()
	go func() {
		c.readPump(func(data []byte) { g.handleFrame(ctx, c, data) })
		g.disconnect(ctx, c)
	}()
}

func (g *Gateway) reject(conn *websocket.Conn, cause error) {
	if frame, err := encodeFrameValue(EventException, "", errorBody(cause)); err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, frame)
	}
	time.AfterFunc(g.grace, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, apperr.MessageOf(cause)),
			time.Now().Add(writeWait))
		conn.Close()
	})
}

// disconnect runs once the read pump has stopped, so no frame from this
// connection is handled after its cleanup.
func (g *Gateway) disconnect(ctx context.Context, c *Client) {
	g.hub.Unregister(c)
	c.Close()
	if err := g.presence.OnDisconnect(ctx, c.ID, c.UserID); err != nil {
		g.log.Error("disconnect cleanup", "conn", c.ID, "user", c.UserID, "error", err)
	}
}

func (g *Gateway) handleFrame(ctx context.Context, c *Client, data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		g.reply(c, EventException, "", errorBody(apperr.BadRequestf("malformed frame")))
		return
	}
	result, err := g.Dispatch(ctx, c, f)
	if err != nil {
		if apperr.KindOf(err) == apperr.Internal {
			g.log.Error("socket event failed", "event", f.Event, "conn", c.ID, "user", c.UserID, "error", err)
		}
		g.reply(c, EventException, f.Ref, errorBody(err))
		return
	}
	g.reply(c, EventAck, f.Ref, result)
	if f.Event == EventLogout {
		c.Close()
	}
}

// Dispatch runs one inbound event for the client and returns the ack payload.
func (g *Gateway) Dispatch(ctx context.Context, c *Client, f Frame) (any, error) {
	switch f.Event {
	case messages.EventDirect:
		var in directBody
		if err := decode(f.Data, &in); err != nil {
			return nil, err
		}
		return g.messages.SendDirect(ctx, c.ID, c.UserID, in.ID, in.Body, in.Attachments)
	case messages.EventDirectTyping:
		var in directBody
		if err := decode(f.Data, &in); err != nil {
			return nil, err
		}
		return true, g.messages.DirectTyping(ctx, c.ID, c.UserID, in.ID)
	case messages.EventGroup:
		var in groupBody
		if err := decode(f.Data, &in); err != nil {
			return nil, err
		}
		return g.messages.SendGroup(ctx, c.ID, c.UserID, in.GroupID, in.Body, in.Attachments)
	case messages.EventGroupTyping:
		var in groupBody
		if err := decode(f.Data, &in); err != nil {
			return nil, err
		}
		return true, g.messages.GroupTyping(ctx, c.ID, c.UserID, in.GroupID)
	case requests.EventFriendRequest:
		var in directBody
		if err := decode(f.Data, &in); err != nil {
			return nil, err
		}
		return g.requests.CreateFriendRequest(ctx, c.UserID, in.ID)
	case EventLogout:
		// only this socket; other devices stay signed in
		g.hub.Unregister(c)
		return true, g.presence.OnDisconnect(ctx, c.ID, c.UserID)
	default:
		return nil, apperr.BadRequestf("unknown event %q", f.Event)
	}
}

func (g *Gateway) reply(c *Client, event, ref string, v any) {
	frame, err := encodeFrameValue(event, ref, v)
	if err != nil {
		g.log.Error("encode frame", "event", event, "error", err)
		return
	}
	if !c.deliver(frame) {
		c.Close()
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return apperr.BadRequestf("missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.BadRequestf("invalid data: %v", err)
	}
	return nil
}
