package api

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

// BoardViewer renders ordered board snapshots. storage.Cache and
// domain.BoardView both satisfy it.
type BoardViewer interface {
	Get(ctx context.Context, boardID string) (*domain.BoardSnapshot, error)
}

// Repairer renumbers the sibling sets of a board found with gaps.
type Repairer interface {
	RepairBoard(ctx context.Context, boardID string) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Permissions decides whether an actor may change a board.
type Permissions interface {
	CanMutate(ctx context.Context, actorID string, board *domain.Board) bool
}

// Notifier is told about every successful board mutation.
type Notifier interface {
	NotifyBoardChanged(ctx context.Context, boardID, actorID string) error
}

// Subscriber hands out wake-up channels for board changes.
type Subscriber interface {
	Subscribe(boardID string) (<-chan struct{}, func())
}

// Deduper prevents processing of duplicate requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when processing fails.
	Remove(ctx context.Context, userID, key string) error
}

// Notifiers fans a change out to several notifiers. Every notifier is
// called; failures are logged and the first one is returned.
type Notifiers []Notifier

func (ns Notifiers) NotifyBoardChanged(ctx context.Context, boardID, actorID string) error {
	var first error
	for _, n := range ns {
		if n == nil {
			continue
		}
		if err := n.NotifyBoardChanged(ctx, boardID, actorID); err != nil {
			log.WithFields(log.Fields{"boardId": boardID, "notifier": fmt.Sprintf("%T", n)}).WithError(err).Warn("board change notification failed")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Config collects the collaborators the handlers run against. Store and
// Auth are required; the rest fall back to sensible defaults.
type Config struct {
	Store       domain.Store
	View        BoardViewer
	Auth        Authenticator
	Permissions Permissions
	Notifier    Notifier
	Deduper     Deduper
	Streams     Subscriber
}
