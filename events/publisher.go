package events

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/sidequest/server/cache"
)

// AllChannel receives every quest event.
const AllChannel = "quest_events"

// UserChannel is the pub/sub channel carrying the events of one user.
func UserChannel(userID int64) string {
	return AllChannel + ":" + strconv.FormatInt(userID, 10)
}

// Message is the wire form of a published event.
type Message struct {
	Type   string          `json:"type"`
	UserID int64           `json:"user_id"`
	Data   json.RawMessage `json:"data"`
	At     time.Time       `json:"at"`
}

// NewMessage marshals data into a Message.
func NewMessage(typ string, userID int64, data interface{}, at time.Time) (*Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{Type: typ, UserID: userID, Data: raw, At: at.UTC()}, nil
}

// Publisher delivers messages to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
	Close() error
}

// PubSubPublisher publishes on the cache pub/sub, once on the user's
// channel and once on AllChannel. The SSE endpoint reads from it.
type PubSubPublisher struct {
	ps cache.PubSub
}

func NewPubSubPublisher(ps cache.PubSub) *PubSubPublisher {
	return &PubSubPublisher{ps: ps}
}

func (p *PubSubPublisher) Publish(ctx context.Context, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := p.ps.Publish(ctx, UserChannel(msg.UserID), string(body)); err != nil {
		return err
	}
	return p.ps.Publish(ctx, AllChannel, string(body))
}

func (p *PubSubPublisher) Close() error { return nil }

// Multi fans a message out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, msg *Message) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
