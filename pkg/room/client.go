package room

import (
	"sync"

	"collab-sync/pkg/auth"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const sendBuffer = 256

// Client represents one connected websocket. The connection's pumps live in
// the handlers package; the room only ever enqueues onto Send.
type Client struct {
	ID     string
	UserID string
	Email  string
	Conn   *websocket.Conn

	send chan []byte
	done chan struct{}
	once sync.Once

	mutex sync.Mutex
	rooms map[string]struct{}
}

func NewClient(conn *websocket.Conn, id auth.Identity) *Client {
	return &Client{
		ID:     uuid.New().String(),
		UserID: id.UserID,
		Email:  id.Email,
		Conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}
}

// Enqueue queues msg without blocking. A client whose buffer is full is
// closed and false is returned.
func (c *Client) Enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.Close()
		return false
	}
}

// Send is drained by the write pump. It is never closed; watch Done instead.
func (c *Client) Send() <-chan []byte { return c.send }

func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// Rooms lists the documents the client has joined.
func (c *Client) Rooms() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ids := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	return ids
}

func (c *Client) inRoom(documentID string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, ok := c.rooms[documentID]
	return ok
}

func (c *Client) setRoom(documentID string, joined bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if joined {
		c.rooms[documentID] = struct{}{}
	} else {
		delete(c.rooms, documentID)
	}
}
