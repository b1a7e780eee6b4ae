package local

import (
	"context"
	"sync"
	"sync/atomic"
)

// LocalMessage is an in-process pub/sub message.
type LocalMessage struct {
	Channel string
	Payload string
}

// PubSubStats is a point-in-time view of a LocalPubSub.
type PubSubStats struct {
	Channels      int
	Subscriptions int
	Delivered     uint64
	Dropped       uint64
}

type subscription struct {
	ch       chan *LocalMessage
	channels []string
	done     chan struct{}
	once     sync.Once
}

// LocalPubSub fans messages out to subscribers of an exact channel name.
// A subscriber whose buffer is full misses the message; Publish never
// blocks on a slow reader.
type LocalPubSub struct {
	mu        sync.RWMutex
	channels  map[string]map[*subscription]struct{}
	subs      int
	bufSize   int
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewPubSub creates a LocalPubSub with the given per-subscriber buffer size.
func NewPubSub(bufSize int) *LocalPubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &LocalPubSub{
		channels: make(map[string]map[*subscription]struct{}),
		bufSize:  bufSize,
	}
}

// Publish delivers message to every current subscriber of channel.
func (ps *LocalPubSub) Publish(_ context.Context, channel, message string) error {
	msg := &LocalMessage{Channel: channel, Payload: message}
	// Held across the sends so unsubscribe cannot close a channel mid-send.
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for s := range ps.channels[channel] {
		select {
		case s.ch <- msg:
			ps.delivered.Add(1)
		default:
			ps.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers for channels. The returned channel is closed by the
// cancel func or when ctx ends, whichever comes first.
func (ps *LocalPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *LocalMessage, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s := &subscription{
		ch:       make(chan *LocalMessage, ps.bufSize),
		channels: channels,
		done:     make(chan struct{}),
	}

	ps.mu.Lock()
	for _, c := range channels {
		set, ok := ps.channels[c]
		if !ok {
			set = make(map[*subscription]struct{})
			ps.channels[c] = set
		}
		set[s] = struct{}{}
	}
	ps.subs++
	ps.mu.Unlock()

	cancel := func() {
		s.once.Do(func() { ps.unsubscribe(s) })
	}
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-s.done:
			}
		}()
	}
	return s.ch, cancel, nil
}

func (ps *LocalPubSub) unsubscribe(s *subscription) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, c := range s.channels {
		set := ps.channels[c]
		delete(set, s)
		if len(set) == 0 {
			delete(ps.channels, c)
		}
	}
	ps.subs--
	close(s.done)
	close(s.ch)
}

// Stats reports live channels and subscriptions plus delivery counters
// since creation.
func (ps *LocalPubSub) Stats() PubSubStats {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return PubSubStats{
		Channels:      len(ps.channels),
		Subscriptions: ps.subs,
		Delivered:     ps.delivered.Load(),
		Dropped:       ps.dropped.Load(),
	}
}
