package api

import (
	"context"

	"kanban-api/domain"
)

// MembershipPolicy lets the owner and invited members change a board.
type MembershipPolicy struct{}

func (MembershipPolicy) CanMutate(_ context.Context, actorID string, board *domain.Board) bool {
	return board != nil && actorID != "" && board.HasMember(actorID)
}
