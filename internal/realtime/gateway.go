package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is a connection's lifecycle stage.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Session tracks one connection through Connecting -> Open -> Closed.
type Session struct {
	ConversationID string
	UserID         string
	state          atomic.Int32
}

// State returns the current lifecycle stage.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) set(st State) { s.state.Store(int32(st)) }

// Gateway accepts websocket connections scoped to one conversation and
// relays every decoded inbound frame, unchanged, to the conversation's
// other subscribers. It persists nothing.
type Gateway struct {
	Hub           *Hub
	Upgrader      websocket.Upgrader
	SendBuffer    int
	PingInterval  time.Duration
	MaxFrameBytes int64

	// OnState, when set, observes every lifecycle transition.
	OnState func(*Session, State)
}

// NewGateway returns a gateway with the given tuning. checkOrigin may be nil
// to accept any origin.
func NewGateway(hub *Hub, sendBuffer int, pingInterval time.Duration, maxFrameBytes int64, checkOrigin func(*http.Request) bool) *Gateway {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Gateway{
		Hub: hub,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		SendBuffer:    sendBuffer,
		PingInterval:  pingInterval,
		MaxFrameBytes: maxFrameBytes,
	}
}

func (g *Gateway) transition(s *Session, st State) {
	s.set(st)
	if g.OnState != nil {
		g.OnState(s, st)
	}
}

// Serve upgrades the request and runs the connection until it closes. A
// failed upgrade returns the error without touching the registry; the
// upgrader has already answered the HTTP request.
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request, conversationID, userID string) error {
	sess := &Session{ConversationID: conversationID, UserID: userID}
	g.transition(sess, StateConnecting)

	ws, err := g.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.transition(sess, StateClosed)
		return err
	}

	c := newConn(ws, conversationID, userID, g.SendBuffer)
	lg := log.With().
		Str("conversation_id", conversationID).
		Str("conn_id", c.ID()).
		Str("user_id", userID).
		Logger()

	reg := g.Hub.Registry
	reg.Register(c, conversationID)
	wsConnections.Inc()
	g.transition(sess, StateOpen)
	lg.Debug().Msg("ws open")

	defer func() {
		reg.Unregister(c, conversationID)
		c.shutdown()
		_ = ws.Close()
		wsConnections.Dec()
		g.transition(sess, StateClosed)
		lg.Debug().Msg("ws closed")
	}()

	pingEvery := g.PingInterval
	if pingEvery <= 0 {
		pingEvery = 25 * time.Second
	}
	go c.writePump(pingEvery)

	// Hijacked connections outlive the request's cancellation semantics;
	// keep its values (trace context) only.
	g.readLoop(context.WithoutCancel(r.Context()), c, pingEvery*2, lg)
	return nil
}

func (g *Gateway) readLoop(ctx context.Context, c *Conn, pongWait time.Duration, lg zerolog.Logger) {
	ws := c.ws
	if g.MaxFrameBytes > 0 {
		ws.SetReadLimit(g.MaxFrameBytes)
	}
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				lg.Info().Err(err).Msg("ws read error")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		if !json.Valid(data) {
			wsFrames.WithLabelValues("rejected").Inc()
			lg.Info().Int("bytes", len(data)).Msg("ws frame is not valid JSON; closing")
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "invalid payload"),
				time.Now().Add(writeWait))
			return
		}
		wsFrames.WithLabelValues("relayed").Inc()
		g.Hub.Publish(ctx, c.conversationID, data, c)
	}
}
