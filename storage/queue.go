package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"kanban-api/domain"
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// QueueNotifier writes board-changed events to an Azure queue for consumers
// that must not miss an update (search indexing, webhooks, audit).
type QueueNotifier struct {
	queue queueClient
	ttl   *int32
}

// NewQueueNotifier connects to the named queue. A positive ttl bounds how long
// an unconsumed message stays visible to consumers.
func NewQueueNotifier(connStr, queueName string, ttl time.Duration) (*QueueNotifier, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	qc, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return newQueueNotifier(qc, ttl), nil
}

func newQueueNotifier(q queueClient, ttl time.Duration) *QueueNotifier {
	n := &QueueNotifier{queue: q}
	if ttl > 0 {
		secs := int32(ttl / time.Second)
		n.ttl = &secs
	}
	return n
}

func (n *QueueNotifier) NotifyBoardChanged(ctx context.Context, boardID, actorID string) error {
	data, err := json.Marshal(domain.NewBoardChanged(boardID, actorID))
	if err != nil {
		return err
	}
	var opts *azqueue.EnqueueMessageOptions
	if n.ttl != nil {
		opts = &azqueue.EnqueueMessageOptions{TimeToLive: n.ttl}
	}
	if _, err := n.queue.EnqueueMessage(ctx, string(data), opts); err != nil {
		return fmt.Errorf("enqueue board %s change: %w", boardID, err)
	}
	return nil
}
