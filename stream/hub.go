package stream

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

// Hub tracks SSE subscribers per board and wakes them when a change for
// their board arrives. Wake-ups coalesce: a subscriber that has not consumed
// the previous signal does not queue another.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan struct{}]struct{})}
}

// Subscribe registers interest in boardID. The returned func must be called
// to release the subscription.
func (h *Hub) Subscribe(boardID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	set, ok := h.subs[boardID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		h.subs[boardID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() { h.unsubscribe(boardID, ch) }
}

func (h *Hub) unsubscribe(boardID string, ch chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[boardID]
	delete(set, ch)
	if len(set) == 0 {
		delete(h.subs, boardID)
	}
}

// Subscribers reports how many streams are open for boardID.
func (h *Hub) Subscribers(boardID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[boardID])
}

func (h *Hub) Notify(boardID string) {
	h.mu.Lock()
	for ch := range h.subs[boardID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	h.mu.Unlock()
}

// Listen consumes board-changed events from the Redis channel until ctx is
// done, resubscribing when the channel closes underneath it.
func (h *Hub) Listen(ctx context.Context, rc *redis.Client, channel string) {
	for {
		sub := rc.Subscribe(ctx, channel)
		h.drain(ctx, sub.Channel(), channel)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		log.WithField("channel", channel).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (h *Hub) drain(ctx context.Context, ch <-chan *redis.Message, channel string) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev domain.BoardChanged
			if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil || ev.BoardID == "" {
				log.WithField("channel", channel).WithError(err).Warn("unable to parse board update")
				continue
			}
			log.WithFields(log.Fields{"boardId": ev.BoardID, "initiator": ev.Initiator}).Debug("board changed")
			h.Notify(ev.BoardID)
		}
	}
}
