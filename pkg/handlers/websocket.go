package handlers

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"collab-sync/pkg/apperr"
	"collab-sync/pkg/auth"
	"collab-sync/pkg/protocol"
	"collab-sync/pkg/room"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
)

// HandleWebSocket authenticates the caller and upgrades the connection. The
// token is checked before the upgrade so a bad credential gets a plain 401.
// On /ws/{documentId} the connection joins that document straight away.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.VerifyToken(auth.TokenFromRequest(r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	client := room.NewClient(conn, identity)
	h.logger.Info("client connected", "conn", client.ID, "user", client.UserID)

	go h.writePump(client)
	h.readPump(client, mux.Vars(r)["documentId"])
}

// readPump handles reading messages from the WebSocket
func (h *Handlers) readPump(c *room.Client, documentID string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("panic in readPump", "conn", c.ID, "panic", rec, "stack", string(debug.Stack()))
		}
		cancel()
		h.roomManager.LeaveAll(context.Background(), c)
		c.Close()
		c.Conn.Close()
		h.logger.Info("client disconnected", "conn", c.ID, "user", c.UserID)
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if documentID != "" {
		h.join(ctx, c, documentID)
	}

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket closed unexpectedly", "conn", c.ID, "err", err)
			}
			return
		}
		h.dispatch(ctx, c, message)
	}
}

func (h *Handlers) dispatch(ctx context.Context, c *room.Client, message []byte) {
	msg, err := protocol.Decode(message)
	if err != nil {
		h.sendError(c, apperr.Wrap(apperr.Invalid, err, err.Error()), "", "")
		return
	}

	switch m := msg.(type) {
	case *protocol.Join:
		h.join(ctx, c, m.DocumentID)
	case *protocol.Leave:
		h.roomManager.Leave(ctx, c, m.DocumentID)
	case *protocol.Op:
		if _, err := h.roomManager.Submit(ctx, c, *m); err != nil {
			h.sendError(c, err, m.DocumentID, m.OpID)
		}
	case *protocol.Cursor:
		if err := h.roomManager.Cursor(ctx, c, *m); err != nil {
			h.sendError(c, err, m.DocumentID, "")
		}
	case *protocol.Ping:
		c.Enqueue(protocol.Encode(protocol.Pong{Type: protocol.TypePong}))
	default:
		h.sendError(c, apperr.New(apperr.Invalid, "Unsupported message type"), "", "")
	}
}

func (h *Handlers) join(ctx context.Context, c *room.Client, documentID string) {
	if err := h.roomManager.Join(ctx, c, documentID); err != nil {
		h.sendError(c, err, documentID, "")
	}
}

// sendError reports a failure to this connection only.
func (h *Handlers) sendError(c *room.Client, err error, documentID, opID string) {
	status := apperr.Status(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("websocket request failed", "conn", c.ID, "document", documentID, "err", err)
	}
	c.Enqueue(protocol.Encode(protocol.Error{
		Type:       protocol.TypeError,
		Status:     status,
		Message:    apperr.Message(err),
		DocumentID: documentID,
		OpID:       opID,
	}))
}

// writePump handles writing messages to the WebSocket
func (h *Handlers) writePump(c *room.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.Send():
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("websocket write failed", "conn", c.ID, "err", err)
				return
			}
		case <-c.Done():
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
