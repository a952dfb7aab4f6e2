package domain

import (
	"context"
	"fmt"
)

// CloneEngine duplicates a list and its cards.
type CloneEngine struct{ engine }

func NewCloneEngine(st Store) CloneEngine { return CloneEngine{newEngine(st)} }

// CloneList copies the list and every card on it under fresh ids. The clone
// keeps the source's card order and is appended as the last list of the
// board. An empty title reuses the source title.
func (c CloneEngine) CloneList(ctx context.Context, listID, title string) (*ListSnapshot, error) {
	const op = "clone list"
	src, err := c.loadList(ctx, op, listID, ErrSourceNotFound)
	if err != nil {
		return nil, err
	}
	board, err := c.loadBoard(ctx, op, src.BoardID, ErrNotFound)
	if err != nil {
		return nil, err
	}
	cards, err := c.siblingCards(ctx, src.BoardID, src.ID)
	if err != nil {
		return nil, err
	}
	lists, err := c.siblingLists(ctx, board.ID)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = src.Title
	}

	now := c.now().UTC()
	clone := List{
		ID:        c.newID(),
		BoardID:   board.ID,
		Title:     title,
		Order:     len(lists),
		Cards:     make([]string, 0, len(cards)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	copies := make([]Card, 0, len(cards))
	for k, card := range cards {
		cp := copyPayload(card)
		cp.ID = c.newID()
		cp.BoardID = board.ID
		cp.ListID = clone.ID
		cp.Order = k
		cp.CreatedAt = now
		cp.UpdatedAt = now
		if err := c.st.SaveCard(ctx, cp); err != nil {
			return nil, fmt.Errorf("%s %s: save card copy of %s: %w", op, listID, card.ID, err)
		}
		copies = append(copies, cp)
		clone.Cards = append(clone.Cards, cp.ID)
	}
	if err := c.st.SaveList(ctx, clone); err != nil {
		return nil, fmt.Errorf("%s %s: save list: %w", op, listID, err)
	}
	board.Lists = appendID(board.Lists, clone.ID)
	board.UpdatedAt = now
	if err := c.st.SaveBoard(ctx, *board); err != nil {
		return nil, fmt.Errorf("%s %s: save board %s: %w", op, listID, board.ID, err)
	}
	return &ListSnapshot{List: clone, Cards: copies}, nil
}
