package room

import (
	"context"
	"runtime/debug"
	"sync"

	"collab-sync/pkg/broker"
	"collab-sync/pkg/protocol"
)

// Member is a client's presence in one room. A member is started once its
// initial_state has been relayed; until then it receives nothing else.
type Member struct {
	client  *Client
	cursor  protocol.Cursor
	started bool
}

// User is what the room reports about a member.
type User struct {
	ConnectionID   string `json:"connectionId"`
	UserID         string `json:"userId"`
	Email          string `json:"email"`
	CursorPosition int    `json:"cursorPosition"`
	SelectionStart int    `json:"selectionStart"`
	SelectionEnd   int    `json:"selectionEnd"`
}

type job struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

// Room is the set of local connections on one document. Submissions run one
// at a time on the room's loop, which also publishes their results, so every
// member sees accepted operations in version order.
type Room struct {
	ID      string
	manager *RoomManager

	members map[string]*Member
	mutex   sync.RWMutex

	jobs chan job
	sub  broker.Subscription
	done chan struct{}
	once sync.Once
}

func newRoom(id string, rm *RoomManager, sub broker.Subscription) *Room {
	return &Room{
		ID:      id,
		manager: rm,
		members: make(map[string]*Member),
		jobs:    make(chan job),
		sub:     sub,
		done:    make(chan struct{}),
	}
}

// run executes jobs serially until the room stops.
func (r *Room) run() {
	defer r.manager.wg.Done()
	for {
		select {
		case j := <-r.jobs:
			j.result <- r.exec(j)
		case <-r.done:
			return
		}
	}
}

func (r *Room) exec(j job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.manager.logger.Error("panic in room job", "room", r.ID, "panic", rec, "stack", string(debug.Stack()))
			err = errRoomPanic
		}
	}()
	return j.fn(j.ctx)
}

// relay hands every envelope published to the room's topic to the local
// members it addresses.
func (r *Room) relay() {
	defer r.manager.wg.Done()
	for env := range r.sub.C() {
		r.deliver(env)
	}
}

func (r *Room) deliver(env broker.Envelope) {
	r.mutex.Lock()
	clients := make([]*Client, 0, len(r.members))
	for _, m := range r.members {
		if !m.started {
			if !env.Start || env.To != m.client.ID {
				continue
			}
			m.started = true
		}
		clients = append(clients, m.client)
	}
	r.mutex.Unlock()

	for _, c := range clients {
		data := env.For(c.ID)
		if data == nil {
			continue
		}
		if !c.Enqueue(data) {
			r.manager.logger.Warn("dropping slow client", "room", r.ID, "conn", c.ID, "user", c.UserID)
		}
	}
}

// do runs fn on the room loop and waits for its result. fn runs with ctx
// detached from the caller, so a caller that goes away does not abort a
// commit in progress.
func (r *Room) do(ctx context.Context, fn func(ctx context.Context) error) error {
	j := job{ctx: r.manager.ctx, fn: fn, result: make(chan error, 1)}
	select {
	case r.jobs <- j:
	case <-r.done:
		return errRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) stop() {
	r.once.Do(func() {
		close(r.done)
		r.sub.Close()
	})
}

func (r *Room) publish(ctx context.Context, env broker.Envelope) error {
	env.Room = r.ID
	return r.manager.broker.Publish(ctx, r.ID, env)
}

// addMember adds c, or restarts it if it is already a member, so that its
// next initial_state is again the first thing it receives.
func (r *Room) addMember(c *Client) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if m, ok := r.members[c.ID]; ok {
		m.started = false
		return
	}
	r.members[c.ID] = &Member{client: c}
}

// removeMember reports whether c was a member and how many remain.
func (r *Room) removeMember(c *Client) (bool, int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	_, ok := r.members[c.ID]
	delete(r.members, c.ID)
	return ok, len(r.members)
}

func (r *Room) setCursor(c *Client, cur protocol.Cursor) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if m, ok := r.members[c.ID]; ok {
		m.cursor = cur
	}
}

// Users returns the room's current members.
func (r *Room) Users() []User {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	users := make([]User, 0, len(r.members))
	for _, m := range r.members {
		users = append(users, User{
			ConnectionID:   m.client.ID,
			UserID:         m.client.UserID,
			Email:          m.client.Email,
			CursorPosition: m.cursor.CursorPosition,
			SelectionStart: m.cursor.SelectionStart,
			SelectionEnd:   m.cursor.SelectionEnd,
		})
	}
	return users
}
