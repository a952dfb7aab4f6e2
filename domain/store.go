package domain

import "context"

// Store is the per-entity persistence contract the engines run against. Get
// methods return (nil, nil) when the entity does not exist. There is no
// multi-record transaction; every Save is independent.
type Store interface {
	GetBoard(ctx context.Context, id string) (*Board, error)
	SaveBoard(ctx context.Context, b Board) error
	DeleteBoard(ctx context.Context, id string) error

	GetList(ctx context.Context, id string) (*List, error)
	SaveList(ctx context.Context, l List) error
	DeleteList(ctx context.Context, id string) error
	ListsByBoard(ctx context.Context, boardID string) ([]List, error)

	GetCard(ctx context.Context, id string) (*Card, error)
	SaveCard(ctx context.Context, c Card) error
	DeleteCard(ctx context.Context, id string) error
	CardsByList(ctx context.Context, boardID, listID string) ([]Card, error)
}
