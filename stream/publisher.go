package stream

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"kanban-api/domain"
)

// Publisher announces board changes on a Redis channel so every API instance
// can wake the SSE subscribers it holds.
type Publisher struct {
	rc      *redis.Client
	channel string
}

func NewPublisher(rc *redis.Client, channel string) *Publisher {
	return &Publisher{rc: rc, channel: channel}
}

func (p *Publisher) NotifyBoardChanged(ctx context.Context, boardID, actorID string) error {
	payload, err := sonic.Marshal(domain.NewBoardChanged(boardID, actorID))
	if err != nil {
		return err
	}
	if err := p.rc.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish board %s change to %s: %w", boardID, p.channel, err)
	}
	return nil
}
