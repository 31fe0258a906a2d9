// Package client keeps a local replica of one document in step with the
// server. Local edits apply immediately and are confirmed later by the
// server's echo; anything the replica cannot reconcile triggers a resync
// from a fresh initial_state.
package client

import (
	"net/http"
	"sync"

	"collab-sync/pkg/ot"
	"collab-sync/pkg/protocol"

	"github.com/google/uuid"
)

type State int

const (
	Disconnected State = iota
	Syncing
	Synced
)

func (s State) String() string {
	switch s {
	case Syncing:
		return "syncing"
	case Synced:
		return "synced"
	default:
		return "disconnected"
	}
}

type PendingState int

const (
	Queued PendingState = iota
	Sent
	Confirmed
	Superseded
)

func (s PendingState) String() string {
	switch s {
	case Sent:
		return "sent"
	case Confirmed:
		return "confirmed"
	case Superseded:
		return "superseded"
	default:
		return "queued"
	}
}

// PendingOp is a local submission the server has not confirmed yet.
// Operations and BaseVersion follow the server: they are rebased over every
// foreign operation that lands first.
type PendingOp struct {
	ID          string
	Operations  []ot.Operation
	BaseVersion uint64
	State       PendingState

	// base version of the last send
	sentBase uint64
}

// Peer is another participant's last known presence and cursor.
type Peer struct {
	UserID         string
	Email          string
	CursorPosition int
	SelectionStart int
	SelectionEnd   int
}

// Sender delivers a protocol message to the server.
type Sender interface {
	Send(v interface{}) error
}

// Options tune an Editor.
type Options struct {
	// Rebase keeps unconfirmed edits across a resync by transforming them
	// against the server's changes instead of discarding them.
	Rebase       bool
	HistoryLimit int
	// OnChange is called with the new local text after every change.
	OnChange func(text string)
	// OnError receives error events that no pending operation accounts for.
	OnError func(e protocol.Error)
	NewID    func() string
}

// Editor is the client replica of one document.
type Editor struct {
	mu         sync.Mutex
	documentID string
	userID     string
	sender     Sender
	opts       Options

	state State
	text  string

	// serverText and serverVersion track the last state confirmed by the
	// server; version additionally counts our unconfirmed operations.
	serverText    string
	serverVersion uint64
	version       uint64

	pending []*PendingOp
	history *History
	peers   map[string]Peer
}

func NewEditor(documentID, userID string, sender Sender, opts Options) *Editor {
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	return &Editor{
		documentID: documentID,
		userID:     userID,
		sender:     sender,
		opts:       opts,
		history:    NewHistory(opts.HistoryLimit),
		peers:      make(map[string]Peer),
	}
}

func (e *Editor) SetSender(s Sender) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sender = s
}

func (e *Editor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Editor) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.text
}

// Version is the version the local text corresponds to, counting
// unconfirmed operations.
func (e *Editor) Version() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// Pending returns copies of the unconfirmed submissions, oldest first.
func (e *Editor) Pending() []PendingOp {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PendingOp, 0, len(e.pending))
	for _, p := range e.pending {
		out = append(out, *p)
	}
	return out
}

func (e *Editor) Peers() []Peer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Peer, 0, len(e.peers))
	for _, p := range e.peers {
		out = append(out, p)
	}
	return out
}

// Connected starts syncing on a new connection.
func (e *Editor) Connected() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resync()
}

// Disconnected drops to the disconnected state. Unconfirmed operations are
// superseded unless rebasing is on, in which case they wait for the next
// initial_state.
func (e *Editor) Disconnected() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = Disconnected
	e.peers = make(map[string]Peer)
	if !e.opts.Rebase {
		e.supersedePending()
	}
}

// Edit records a local change from the current text to next. The change is
// applied at once and submitted in the background.
func (e *Editor) Edit(next string) {
	e.mu.Lock()
	edit := ot.Diff(e.text, next)
	if edit.Empty() {
		e.mu.Unlock()
		return
	}
	e.history.Record(Entry{Ops: edit.Ops, Inverse: edit.Inverse})
	e.applyLocal(edit.Ops)
	text := e.text
	e.mu.Unlock()
	e.changed(text)
}

// Undo reverts the most recent local change through the normal submit path.
func (e *Editor) Undo() bool {
	e.mu.Lock()
	entry, ok := e.history.Undo()
	if ok {
		e.applyLocal(entry.Inverse)
	}
	text := e.text
	e.mu.Unlock()
	if ok {
		e.changed(text)
	}
	return ok
}

// Redo reapplies the most recently undone change.
func (e *Editor) Redo() bool {
	e.mu.Lock()
	entry, ok := e.history.Redo()
	if ok {
		e.applyLocal(entry.Ops)
	}
	text := e.text
	e.mu.Unlock()
	if ok {
		e.changed(text)
	}
	return ok
}

func (e *Editor) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.CanUndo()
}

func (e *Editor) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.CanRedo()
}

// MoveCursor tells the room where the local cursor is.
func (e *Editor) MoveCursor(position, selectionStart, selectionEnd int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Synced {
		return nil
	}
	return e.send(protocol.Cursor{
		Type:           protocol.TypeCursor,
		DocumentID:     e.documentID,
		CursorPosition: position,
		SelectionStart: selectionStart,
		SelectionEnd:   selectionEnd,
	})
}

// Handle feeds one server event into the replica.
func (e *Editor) Handle(msg interface{}) {
	switch m := msg.(type) {
	case *protocol.InitialState:
		e.handleInitialState(*m)
	case *protocol.OpApplied:
		e.handleOpApplied(*m)
	case *protocol.Error:
		e.handleError(*m)
	case *protocol.Cursor:
		e.handleCursor(*m)
	case *protocol.Presence:
		e.handlePresence(*m)
	}
}

func (e *Editor) handleInitialState(m protocol.InitialState) {
	if m.DocumentID != e.documentID {
		return
	}
	e.mu.Lock()
	var carry []ot.Operation
	if e.opts.Rebase {
		for _, p := range e.pending {
			carry = append(carry, p.Operations...)
		}
		if len(carry) > 0 {
			// The server's changes since serverText have no single author, so
			// on a same-index insert the local edit keeps its place first.
			server := ot.Diff(e.serverText, m.Content).Ops
			carry, _ = ot.TransformAll(carry, server, ot.TieBreak{A: e.userID})
		}
	}
	e.supersedePending()
	e.history.Clear()

	e.serverText = m.Content
	e.serverVersion = m.Version
	e.version = m.Version
	e.text = m.Content
	e.state = Synced

	if len(carry) > 0 {
		e.applyLocal(carry)
	}
	text := e.text
	e.mu.Unlock()
	e.changed(text)
}

func (e *Editor) handleOpApplied(m protocol.OpApplied) {
	if m.DocumentID != e.documentID {
		return
	}
	e.mu.Lock()
	if e.state != Synced || m.Version <= e.serverVersion {
		e.mu.Unlock()
		return
	}
	// A submission of n operations moves the version by n; anything else
	// means we missed an event.
	if m.Version-uint64(len(m.Operations)) != e.serverVersion {
		e.resync()
		e.mu.Unlock()
		return
	}

	if m.OpID != "" && len(e.pending) > 0 && e.pending[0].ID == m.OpID {
		p := e.pending[0]
		p.State = Confirmed
		e.pending = e.pending[1:]
		e.serverText = ot.ApplyAll(e.serverText, m.Operations)
		e.serverVersion = m.Version
		if len(e.pending) > 0 {
			e.submit(e.pending[0])
		}
		e.mu.Unlock()
		return
	}

	if len(e.pending) > 0 {
		// Someone else got in first. Their operations are rebased over ours
		// for the local text and ours over theirs for resubmission; the
		// server rejects the submission in flight, which is then resent.
		e.rebasePending(m)
		if head := e.pending[0]; head.State == Queued {
			e.submit(head)
		}
	} else {
		e.text = ot.ApplyAll(e.text, m.Operations)
		e.version = m.Version
	}
	e.serverText = ot.ApplyAll(e.serverText, m.Operations)
	e.serverVersion = m.Version
	text := e.text
	e.mu.Unlock()
	e.changed(text)
}

func (e *Editor) handleError(m protocol.Error) {
	e.mu.Lock()
	known := false
	for _, p := range e.pending {
		if m.OpID != "" && p.ID == m.OpID {
			known = true
			break
		}
	}
	if known {
		if e.state == Synced {
			if m.Status == http.StatusConflict {
				e.retry(e.pending[0])
			} else {
				// resubmitting would fail the same way
				e.supersedePending()
				e.resync()
			}
		}
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if m.OpID == "" && e.opts.OnError != nil {
		e.opts.OnError(m)
	}
}

func (e *Editor) handleCursor(m protocol.Cursor) {
	if m.DocumentID != e.documentID || m.UserID == e.userID {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.peers[m.UserID]
	p.UserID = m.UserID
	if m.Email != "" {
		p.Email = m.Email
	}
	p.CursorPosition = m.CursorPosition
	p.SelectionStart = m.SelectionStart
	p.SelectionEnd = m.SelectionEnd
	e.peers[m.UserID] = p
}

func (e *Editor) handlePresence(m protocol.Presence) {
	if m.DocumentID != e.documentID {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if m.Status == protocol.StatusLeft {
		delete(e.peers, m.UserID)
		return
	}
	if _, ok := e.peers[m.UserID]; !ok {
		e.peers[m.UserID] = Peer{UserID: m.UserID, Email: m.Email}
	}
}

// applyLocal applies ops to the local text and queues them for submission.
// Only the oldest pending submission is ever in flight; the next one is sent
// when its echo arrives. Must be called with e.mu held.
func (e *Editor) applyLocal(ops []ot.Operation) {
	e.text = ot.ApplyAll(e.text, ops)
	p := &PendingOp{
		ID:          e.opts.NewID(),
		Operations:  ops,
		BaseVersion: e.version,
		State:       Queued,
	}
	e.version += uint64(len(ops))
	e.pending = append(e.pending, p)
	if e.state == Synced && len(e.pending) == 1 {
		e.submit(p)
	}
}

// retry handles a version conflict on the submission in flight. If the
// operation that beat it has already been rebased in, it is resent at once;
// otherwise it waits, queued, for that operation's op_applied.
func (e *Editor) retry(p *PendingOp) {
	if p.State != Sent {
		return
	}
	if p.BaseVersion != p.sentBase {
		e.submit(p)
		return
	}
	p.State = Queued
}

// rebasePending transforms the pending operations and a foreign batch m
// against each other. Must be called with e.mu held.
func (e *Editor) rebasePending(m protocol.OpApplied) {
	var ours []ot.Operation
	for _, p := range e.pending {
		ours = append(ours, p.Operations...)
	}
	ours, theirs := ot.TransformAll(ours, m.Operations, ot.TieBreak{A: e.userID, B: m.UserID})
	e.text = ot.ApplyAll(e.text, theirs)

	base := m.Version
	for _, p := range e.pending {
		n := len(p.Operations)
		p.Operations, ours = ours[:n:n], ours[n:]
		p.BaseVersion = base
		base += uint64(n)
	}
	e.version = base
}

func (e *Editor) submit(p *PendingOp) {
	err := e.send(protocol.Op{
		Type:        protocol.TypeOp,
		DocumentID:  e.documentID,
		BaseVersion: p.BaseVersion,
		Operations:  p.Operations,
		OpID:        p.ID,
	})
	if err == nil {
		p.State = Sent
		p.sentBase = p.BaseVersion
	}
}

// resync asks for a fresh initial_state. Must be called with e.mu held.
func (e *Editor) resync() {
	if !e.opts.Rebase {
		e.supersedePending()
	}
	e.state = Syncing
	e.send(protocol.Join{Type: protocol.TypeJoin, DocumentID: e.documentID})
}

func (e *Editor) supersedePending() {
	for _, p := range e.pending {
		p.State = Superseded
	}
	e.pending = nil
}

func (e *Editor) send(v interface{}) error {
	if e.sender == nil {
		return errNotConnected
	}
	return e.sender.Send(v)
}

func (e *Editor) changed(text string) {
	if e.opts.OnChange != nil {
		e.opts.OnChange(text)
	}
}
