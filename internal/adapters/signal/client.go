// Package signal is the participant side of the relay: a store.Backend
// that talks to the relay server over REST and websocket watches.
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Telecall/internal/adapters/wire"
	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
)

type Client struct {
	base   string
	http   *http.Client
	dialer *websocket.Dialer

	mu      sync.Mutex
	streams map[*stream]struct{}

	logger zerolog.Logger
}

func NewClient(serverURL string) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: want http or https", serverURL)
	}
	return &Client{
		base:    strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		streams: make(map[*stream]struct{}),
		logger:  log.With().Str("module", "adapters.signal").Str("server", u.Host).Logger(),
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var eb wire.ErrorBody
		if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil || eb.Error == "" {
			return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		}
		return wire.ErrorOf(eb)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) GetSessionRecord(ctx context.Context, id domain.AppointmentID) (domain.SessionRecord, error) {
	var rec domain.SessionRecord
	err := c.do(ctx, http.MethodGet, "/api/appointments/"+url.PathEscape(string(id)), nil, &rec)
	return rec, err
}

func (c *Client) PutSessionRecord(ctx context.Context, rec domain.SessionRecord) error {
	return c.do(ctx, http.MethodPut, "/api/appointments/"+url.PathEscape(string(rec.AppointmentID)), rec, nil)
}

func (c *Client) Create(ctx context.Context, doc domain.SignalingDoc) error {
	return c.do(ctx, http.MethodPost, "/api/calls", doc, nil)
}

func (c *Client) Read(ctx context.Context, id domain.CallID) (domain.SignalingDoc, error) {
	var doc domain.SignalingDoc
	err := c.do(ctx, http.MethodGet, callPath(id), nil, &doc)
	return doc, err
}

func (c *Client) Update(ctx context.Context, id domain.CallID, upd domain.DocUpdate) error {
	return c.do(ctx, http.MethodPatch, callPath(id), upd, nil)
}

func (c *Client) Latest(ctx context.Context, appointment domain.AppointmentID) (domain.SignalingDoc, error) {
	var doc domain.SignalingDoc
	err := c.do(ctx, http.MethodGet, "/api/appointments/"+url.PathEscape(string(appointment))+"/calls/latest", nil, &doc)
	return doc, err
}

func (c *Client) AppendCandidate(ctx context.Context, id domain.CallID, owner domain.ParticipantID, cand domain.Candidate) error {
	return c.do(ctx, http.MethodPost, mailboxPath(id, owner), cand, nil)
}

func (c *Client) Candidates(ctx context.Context, id domain.CallID, owner domain.ParticipantID) ([]domain.Candidate, error) {
	var list wire.CandidateList
	if err := c.do(ctx, http.MethodGet, mailboxPath(id, owner), nil, &list); err != nil {
		return nil, err
	}
	return list.Candidates, nil
}

// Subscribe reads the document once so an unknown call fails here, then
// follows it over a watch stream.
func (c *Client) Subscribe(ctx context.Context, id domain.CallID, fn func(domain.SignalingDoc)) (core.Unsubscribe, error) {
	if _, err := c.Read(ctx, id); err != nil {
		return nil, err
	}
	return c.watch(ctx, id, wire.ClientMessage{Type: wire.TypeWatchDoc}, func(msg wire.ServerMessage) {
		if msg.Type == wire.TypeDoc && msg.Doc != nil {
			fn(*msg.Doc)
		}
	})
}

func (c *Client) SubscribeCandidates(ctx context.Context, id domain.CallID, owner domain.ParticipantID, fn func([]domain.Candidate)) (core.Unsubscribe, error) {
	return c.watch(ctx, id, wire.ClientMessage{Type: wire.TypeWatchCandidates, Participant: owner}, func(msg wire.ServerMessage) {
		if msg.Type == wire.TypeCandidates && msg.Participant == owner {
			fn(msg.Candidates)
		}
	})
}

// Close ends every open watch stream.
func (c *Client) Close() error {
	c.mu.Lock()
	open := make([]*stream, 0, len(c.streams))
	for s := range c.streams {
		open = append(open, s)
	}
	c.mu.Unlock()
	for _, s := range open {
		s.stop()
	}
	return nil
}

var errWatchRejected = errors.New("watch rejected")

const (
	redialMin = 250 * time.Millisecond
	redialMax = 5 * time.Second
)

// stream is one watch subscription. It outlives the websocket it currently
// reads from: a dropped connection is replaced until stop is called.
type stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	drop   func(*stream)

	mu   sync.Mutex
	conn *websocket.Conn
}

// swap installs a redialed connection unless the stream was stopped meanwhile.
func (s *stream) swap(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		_ = conn.Close()
		return false
	}
	s.conn = conn
	return true
}

func (s *stream) stop() {
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
		s.drop(s)
	})
}

func (c *Client) watch(ctx context.Context, id domain.CallID, req wire.ClientMessage, deliver func(wire.ServerMessage)) (core.Unsubscribe, error) {
	wsURL := "ws" + strings.TrimPrefix(c.base, "http") + "/api/ws/calls/" + url.PathEscape(string(id))
	conn, err := c.open(ctx, wsURL, req)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", id, err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &stream{ctx: sctx, cancel: cancel, conn: conn, drop: c.forget}
	c.mu.Lock()
	c.streams[s] = struct{}{}
	c.mu.Unlock()

	logger := c.logger.With().Str("call_id", string(id)).Str("watch", req.Type).Logger()
	go c.follow(s, wsURL, req, deliver, logger)
	return core.Unsubscribe(s.stop), nil
}

func (c *Client) open(ctx context.Context, wsURL string, req wire.ClientMessage) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if err := conn.WriteJSON(req); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send %s: %w", req.Type, err)
	}
	return conn, nil
}

// follow delivers messages until the stream is stopped. A dropped connection
// is redialed and the watch sent again; the server replays the current state
// on every attach.
func (c *Client) follow(s *stream, wsURL string, req wire.ClientMessage, deliver func(wire.ServerMessage), logger zerolog.Logger) {
	defer s.stop()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	for {
		err := readStream(conn, deliver)
		if s.ctx.Err() != nil {
			return
		}
		if errors.Is(err, errWatchRejected) {
			logger.Error().Err(err).Msg("watch stream closed")
			return
		}
		logger.Warn().Err(err).Msg("watch stream dropped, redialing")
		_ = conn.Close()
		if conn = c.redial(s, wsURL, req, logger); conn == nil {
			return
		}
	}
}

func (c *Client) redial(s *stream, wsURL string, req wire.ClientMessage, logger zerolog.Logger) *websocket.Conn {
	backoff := redialMin
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		conn, err := c.open(s.ctx, wsURL, req)
		if err == nil {
			if !s.swap(conn) {
				return nil
			}
			logger.Info().Msg("watch stream restored")
			return conn
		}
		logger.Debug().Err(err).Dur("backoff", backoff).Msg("redial failed")
		backoff = min(backoff*2, redialMax)
	}
}

func readStream(conn *websocket.Conn, deliver func(wire.ServerMessage)) error {
	for {
		var msg wire.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Type == wire.TypeError {
			return fmt.Errorf("%w: %s", errWatchRejected, msg.Error)
		}
		deliver(msg)
	}
}

func (c *Client) forget(s *stream) {
	c.mu.Lock()
	delete(c.streams, s)
	c.mu.Unlock()
}

func callPath(id domain.CallID) string {
	return "/api/calls/" + url.PathEscape(string(id))
}

func mailboxPath(id domain.CallID, owner domain.ParticipantID) string {
	return callPath(id) + "/candidates/" + url.PathEscape(string(owner))
}
