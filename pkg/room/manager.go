// Package room is the session gateway core: it tracks which connections are
// in which document room and routes joins, operations and cursors between
// them and the document service.
package room

import (
	"context"
	"log/slog"
	"sync"

	"collab-sync/pkg/apperr"
	"collab-sync/pkg/auth"
	"collab-sync/pkg/broker"
	"collab-sync/pkg/collab"
	"collab-sync/pkg/db"
	"collab-sync/pkg/protocol"

	"github.com/pkg/errors"
)

var (
	errRoomClosed = errors.New("room closed")
	errRoomPanic  = errors.New("room job panicked")
	ErrShutdown   = errors.New("room manager shut down")
)

// DocumentService is the part of the document store the gateway drives.
type DocumentService interface {
	ApplyUserOperations(ctx context.Context, req collab.ApplyRequest) (collab.ApplyResult, error)
	LoadDocumentState(ctx context.Context, documentID string) (db.DocumentState, error)
	RestoreSnapshot(ctx context.Context, userID, documentID string, snapshotID int64) (collab.ApplyResult, error)
}

// RoomManager manages all rooms of this process. Rooms are created on first
// join and removed when their last local member leaves.
type RoomManager struct {
	rooms  map[string]*Room
	mutex  sync.Mutex
	closed bool

	service DocumentService
	access  auth.Checker
	broker  broker.Broker
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRoomManager creates a new room manager
func NewRoomManager(service DocumentService, access auth.Checker, b broker.Broker, logger *slog.Logger) *RoomManager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RoomManager{
		rooms:   make(map[string]*Room),
		service: service,
		access:  access,
		broker:  b,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// attach adds c to the document's room, creating and starting the room if
// needed.
func (rm *RoomManager) attach(ctx context.Context, c *Client, documentID string) (*Room, error) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	if rm.closed {
		return nil, ErrShutdown
	}

	room, ok := rm.rooms[documentID]
	if !ok {
		sub, err := rm.broker.Subscribe(ctx, documentID)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "subscribe to room")
		}
		room = newRoom(documentID, rm, sub)
		rm.rooms[documentID] = room
		rm.wg.Add(2)
		go room.run()
		go room.relay()
		rm.logger.Debug("room opened", "room", documentID)
	}
	room.addMember(c)
	c.setRoom(documentID, true)
	return room, nil
}

// detach removes c from the room and closes the room once it is empty.
func (rm *RoomManager) detach(c *Client, documentID string) bool {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	c.setRoom(documentID, false)
	room, ok := rm.rooms[documentID]
	if !ok {
		return false
	}
	wasMember, remaining := room.removeMember(c)
	if remaining == 0 {
		delete(rm.rooms, documentID)
		room.stop()
		rm.logger.Debug("room closed", "room", documentID)
	}
	return wasMember
}

func (rm *RoomManager) room(documentID string) (*Room, bool) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	room, ok := rm.rooms[documentID]
	return room, ok
}

// Join adds c to a document's room after checking view access. The joiner
// gets initial_state through the room's ordered stream and then only what is
// published after it; the others get a joined presence. Joining again
// repeats both.
func (rm *RoomManager) Join(ctx context.Context, c *Client, documentID string) error {
	if documentID == "" {
		return apperr.New(apperr.Invalid, "documentId is required")
	}
	if err := rm.access.RequireAccess(ctx, c.UserID, documentID, auth.RoleView); err != nil {
		return err
	}

	room, err := rm.attach(ctx, c, documentID)
	if err != nil {
		return err
	}

	err = room.do(ctx, func(ctx context.Context) error {
		state, err := rm.service.LoadDocumentState(ctx, documentID)
		if err != nil {
			return err
		}
		err = room.publish(ctx, broker.Envelope{
			To:    c.ID,
			Start: true,
			Payload: protocol.Encode(protocol.InitialState{
				Type:       protocol.TypeInitialState,
				DocumentID: documentID,
				Content:    state.Content,
				Version:    state.Version,
			}),
		})
		if err != nil {
			return apperr.Wrap(apperr.Internal, err, "publish initial state")
		}
		return nil
	})
	if err != nil {
		rm.detach(c, documentID)
		return err
	}

	rm.publishPresence(ctx, c, documentID, protocol.StatusJoined)
	rm.logger.Info("client joined", "room", documentID, "conn", c.ID, "user", c.UserID)
	return nil
}

// Leave removes c from a room and tells the rest of the room.
func (rm *RoomManager) Leave(ctx context.Context, c *Client, documentID string) {
	if !rm.detach(c, documentID) {
		return
	}
	rm.publishPresence(ctx, c, documentID, protocol.StatusLeft)
	rm.logger.Info("client left", "room", documentID, "conn", c.ID, "user", c.UserID)
}

// LeaveAll leaves every room c is in. Called when the connection ends.
func (rm *RoomManager) LeaveAll(ctx context.Context, c *Client) {
	for _, id := range c.Rooms() {
		rm.Leave(ctx, c, id)
	}
}

func (rm *RoomManager) publishPresence(ctx context.Context, c *Client, documentID, status string) {
	err := rm.broker.Publish(ctx, documentID, broker.Envelope{
		Room:       documentID,
		From:       c.ID,
		SkipSender: true,
		Payload: protocol.Encode(protocol.Presence{
			Type:       protocol.TypePresence,
			DocumentID: documentID,
			UserID:     c.UserID,
			Email:      c.Email,
			Status:     status,
		}),
	})
	if err != nil {
		rm.logger.Warn("presence publish failed", "room", documentID, "status", status, "err", err)
	}
}

// Cursor relays a cursor update to the other members and remembers it as the
// member's latest position.
func (rm *RoomManager) Cursor(ctx context.Context, c *Client, cur protocol.Cursor) error {
	room, err := rm.joined(c, cur.DocumentID)
	if err != nil {
		return err
	}
	cur.Type = protocol.TypeCursor
	cur.UserID = c.UserID
	cur.Email = c.Email
	room.setCursor(c, cur)

	err = room.publish(ctx, broker.Envelope{
		From:       c.ID,
		SkipSender: true,
		Payload:    protocol.Encode(cur),
	})
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "relay cursor")
	}
	return nil
}

// Submit commits an op on the room loop and broadcasts op_applied to every
// member. Only the sender's copy carries the opId. Errors go back to the
// caller and are never broadcast.
func (rm *RoomManager) Submit(ctx context.Context, c *Client, op protocol.Op) (collab.ApplyResult, error) {
	room, err := rm.joined(c, op.DocumentID)
	if err != nil {
		return collab.ApplyResult{}, err
	}
	if err := rm.access.RequireAccess(ctx, c.UserID, op.DocumentID, auth.RoleEdit); err != nil {
		return collab.ApplyResult{}, err
	}

	var res collab.ApplyResult
	err = room.do(ctx, func(ctx context.Context) error {
		var err error
		res, err = rm.service.ApplyUserOperations(ctx, collab.ApplyRequest{
			UserID:      c.UserID,
			DocumentID:  op.DocumentID,
			BaseVersion: op.BaseVersion,
			Operations:  op.Operations,
		})
		if err != nil {
			return err
		}
		return rm.broadcastApplied(ctx, room, c.ID, c.UserID, op.OpID, res)
	})
	if err != nil {
		rm.logger.Debug("op rejected", "room", op.DocumentID, "conn", c.ID, "opId", op.OpID, "err", err)
		return collab.ApplyResult{}, err
	}
	return res, nil
}

// Restore brings a document back to a snapshot and broadcasts the change to
// the room like any other accepted submission.
func (rm *RoomManager) Restore(ctx context.Context, userID, documentID string, snapshotID int64) (collab.ApplyResult, error) {
	room, ok := rm.room(documentID)
	if !ok {
		return rm.service.RestoreSnapshot(ctx, userID, documentID, snapshotID)
	}

	var res collab.ApplyResult
	err := room.do(ctx, func(ctx context.Context) error {
		var err error
		res, err = rm.service.RestoreSnapshot(ctx, userID, documentID, snapshotID)
		if err != nil {
			return err
		}
		return rm.broadcastApplied(ctx, room, "", userID, "", res)
	})
	if errors.Is(err, errRoomClosed) {
		return rm.service.RestoreSnapshot(ctx, userID, documentID, snapshotID)
	}
	return res, err
}

func (rm *RoomManager) broadcastApplied(ctx context.Context, room *Room, connID, userID, opID string, res collab.ApplyResult) error {
	if len(res.Operations) == 0 && connID == "" {
		return nil
	}
	applied := protocol.OpApplied{
		Type:       protocol.TypeOpApplied,
		DocumentID: room.ID,
		UserID:     userID,
		Operations: res.Operations,
		Version:    res.Version,
	}
	env := broker.Envelope{From: connID, Payload: protocol.Encode(applied)}
	if connID != "" {
		applied.OpID = opID
		env.SenderPayload = protocol.Encode(applied)
		if len(res.Operations) == 0 {
			// nothing changed; only the sender needs its echo
			env.To = connID
			env.Payload = env.SenderPayload
		}
	}
	if err := room.publish(ctx, env); err != nil {
		return apperr.Wrap(apperr.Internal, err, "broadcast operations")
	}
	return nil
}

func (rm *RoomManager) joined(c *Client, documentID string) (*Room, error) {
	if !c.inRoom(documentID) {
		return nil, apperr.New(apperr.Invalid, "Join the document first")
	}
	room, ok := rm.room(documentID)
	if !ok {
		return nil, apperr.New(apperr.Invalid, "Join the document first")
	}
	return room, nil
}

// Users lists the local members of a document's room.
func (rm *RoomManager) Users(documentID string) []User {
	room, ok := rm.room(documentID)
	if !ok {
		return []User{}
	}
	return room.Users()
}

// Rooms reports how many rooms are open.
func (rm *RoomManager) Rooms() int {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	return len(rm.rooms)
}

// Shutdown stops every room and waits for their goroutines to finish.
func (rm *RoomManager) Shutdown(ctx context.Context) error {
	rm.mutex.Lock()
	rm.closed = true
	for id, room := range rm.rooms {
		room.stop()
		delete(rm.rooms, id)
	}
	rm.mutex.Unlock()

	done := make(chan struct{})
	go func() {
		rm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		rm.cancel()
		return nil
	case <-ctx.Done():
		rm.cancel()
		return ctx.Err()
	}
}
