package client

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"collab-sync/pkg/protocol"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var (
	errNotConnected = errors.New("not connected")
	ErrUnauthorized = errors.New("server rejected credentials")
)

const writeWait = 10 * time.Second

// Session keeps a websocket connection to the gateway open for an Editor,
// reconnecting with exponential backoff whenever it drops.
type Session struct {
	url    string
	token  string
	editor *Editor
	dialer *websocket.Dialer
	logger *slog.Logger

	// NewBackOff builds the reconnect policy; it is called once per outage.
	NewBackOff func() backoff.BackOff

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewSession wires editor to the gateway at url (ws:// or wss://) and makes
// the session the editor's sender.
func NewSession(url, token string, editor *Editor, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		url:        url,
		token:      token,
		editor:     editor,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:     logger,
		NewBackOff: defaultBackOff,
	}
	editor.SetSender(s)
	return s
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Send writes one message. Writes are serialized.
func (s *Session) Send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return errNotConnected
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

// Run connects and feeds server events to the editor until ctx ends or the
// server rejects the credentials.
func (s *Session) Run(ctx context.Context) error {
	for {
		conn, err := s.connect(ctx)
		if err != nil {
			if _, ok := ctx.Deadline(); ok && !errors.Is(err, ErrUnauthorized) {
				// the backoff gives up once the deadline is nearer than its
				// next retry; the session still ends with the context
				<-ctx.Done()
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		s.setConn(conn)
		s.editor.Connected()
		err = s.readLoop(ctx, conn)
		s.setConn(nil)
		s.editor.Disconnected()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("connection lost, reconnecting", "url", s.url, "err", err)
	}
}

func (s *Session) connect(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{"Authorization": []string{"Bearer " + s.token}}

	var conn *websocket.Conn
	op := func() error {
		c, resp, err := s.dialer.DialContext(ctx, s.url, header)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return backoff.Permanent(ErrUnauthorized)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Debug("dial failed", "url", s.url, "retry_in", wait, "err", err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(s.NewBackOff(), ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			s.logger.Warn("ignoring malformed message", "err", err)
			continue
		}
		s.editor.Handle(msg)
	}
}

func (s *Session) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}
