// Package broker fans room events out to every process serving the room.
// LocalBroker keeps everything in memory; RedisBroker relays through Redis
// pub/sub so several gateway instances can share rooms.
package broker

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

var ErrClosed = errors.New("broker closed")

// Envelope is one event for a room. Payload goes to every member; when
// SenderPayload is set the member whose connection id equals From gets it
// instead. SkipSender leaves From out entirely. To restricts delivery to a
// single connection. Start marks the targeted envelope that opens a
// connection's view of the room: nothing published before it reaches that
// connection.
type Envelope struct {
	Room          string          `json:"room"`
	To            string          `json:"to,omitempty"`
	Start         bool            `json:"start,omitempty"`
	From          string          `json:"from,omitempty"`
	SkipSender    bool            `json:"skipSender,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	SenderPayload json.RawMessage `json:"senderPayload,omitempty"`
}

// For returns the payload connection id should receive, or nil.
func (e Envelope) For(connID string) []byte {
	if e.To != "" && connID != e.To {
		return nil
	}
	if e.From != "" && connID == e.From {
		if e.SkipSender {
			return nil
		}
		if len(e.SenderPayload) > 0 {
			return e.SenderPayload
		}
	}
	return e.Payload
}

// Broker publishes envelopes to topics. Envelopes published to one topic by
// one caller are delivered to each subscriber in publish order.
type Broker interface {
	Publish(ctx context.Context, topic string, env Envelope) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}

// Subscription delivers envelopes until Close. C is closed afterwards.
type Subscription interface {
	C() <-chan Envelope
	Close() error
}
