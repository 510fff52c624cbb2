package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Telecall/internal/adapters/wire"
	"github.com/dkeye/Telecall/internal/app"
	"github.com/dkeye/Telecall/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WatchOptions are the connection limits of the watch endpoint.
type WatchOptions struct {
	ReadLimit  int64
	PingPeriod time.Duration
}

type watchConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *watchConn) TrySend(f []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *watchConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleWatch upgrades to a websocket on which the client asks for
// document and mailbox pushes of one call.
func (s *Server) HandleWatch(ctx context.Context, opts WatchOptions, c *gin.Context) {
	callID := domain.CallID(c.Param("id"))
	sid := app.SessionID(c.GetString("client_token") + "/" + uuid.NewString()[:8])

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "adapters.http").Str("sid", string(sid)).Str("call_id", string(callID)).Msg("new watch connection")

	conn := &watchConn{conn: ws, send: make(chan []byte, 64)}
	ctx, cancel := context.WithCancel(ctx)
	s.Registry.Bind(sid, callID, cancel)
	watchConnections.Inc()

	go s.writePump(ctx, conn, opts.PingPeriod)
	go s.readPump(ctx, sid, callID, conn, opts)
}

func (s *Server) writePump(ctx context.Context, c *watchConn, pingPeriod time.Duration) {
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Debug().Err(err).Str("module", "adapters.http").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("writePump write error")
				return
			}
		}
	}
}

func (s *Server) readPump(ctx context.Context, sid app.SessionID, callID domain.CallID, c *watchConn, opts WatchOptions) {
	defer func() {
		log.Info().Str("module", "adapters.http").Str("sid", string(sid)).Msg("readPump closing")
		c.Close()
		s.Registry.Unbind(sid)
		watchConnections.Dec()
	}()

	if opts.ReadLimit > 0 {
		c.conn.SetReadLimit(opts.ReadLimit)
	}
	if opts.PingPeriod > 0 {
		pongWait := opts.PingPeriod * 10 / 9
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "adapters.http").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			s.handleMessage(ctx, sid, callID, c, data)
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, sid app.SessionID, callID domain.CallID, c *watchConn, data []byte) {
	var msg wire.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("bad json")
		s.push(c, wire.ServerMessage{Type: wire.TypeError, Error: wire.CodeBadRequest})
		return
	}

	switch msg.Type {
	case wire.TypeWatchDoc:
		unsub, err := s.Store.Subscribe(ctx, callID, func(doc domain.SignalingDoc) {
			s.push(c, wire.ServerMessage{Type: wire.TypeDoc, Doc: &doc})
		})
		if err != nil {
			_, code := wire.StatusOf(err)
			s.push(c, wire.ServerMessage{Type: wire.TypeError, Error: code})
			return
		}
		s.Registry.AddSubscription(sid, unsub)
	case wire.TypeWatchCandidates:
		if msg.Participant == "" {
			s.push(c, wire.ServerMessage{Type: wire.TypeError, Error: wire.CodeBadRequest})
			return
		}
		owner := msg.Participant
		unsub, err := s.Store.SubscribeCandidates(ctx, callID, owner, func(list []domain.Candidate) {
			s.push(c, wire.ServerMessage{Type: wire.TypeCandidates, Participant: owner, Candidates: list})
		})
		if err != nil {
			_, code := wire.StatusOf(err)
			s.push(c, wire.ServerMessage{Type: wire.TypeError, Error: code})
			return
		}
		s.Registry.AddSubscription(sid, unsub)
	case wire.TypePing:
		s.push(c, wire.ServerMessage{Type: wire.TypePong})
	default:
		log.Warn().Str("module", "adapters.http").Str("type", msg.Type).Msg("unknown message")
	}
}

// push queues msg; a client that cannot keep up is disconnected.
func (s *Server) push(c *watchConn, msg wire.ServerMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("push marshal")
		return
	}
	if err := c.TrySend(b); errors.Is(err, ErrBackpressure) {
		pushesDropped.Inc()
		log.Warn().Str("module", "adapters.http").Msg("watch client too slow, closing")
		c.Close()
	}
}
